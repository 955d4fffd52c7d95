package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// DefaultModel is the Live model used when the setup config names none.
const DefaultModel = "gemini-2.0-flash-live-001"

// ── Setup ──────────────────────────────────────────────────────────────────────

// SetupConfig is the per-session configuration sent once on every new
// connection.
type SetupConfig struct {
	// Model is the Live model name, with or without the "models/" prefix.
	Model string

	// ResponseModalities defaults to ["AUDIO"].
	ResponseModalities []string

	// Voice names a prebuilt voice (e.g. "Puck", "Kore"). Optional.
	Voice string

	// SystemInstruction is an optional system prompt.
	SystemInstruction string

	// InputTranscription asks the server to transcribe user speech.
	InputTranscription bool

	// OutputTranscription asks the server to transcribe model speech.
	OutputTranscription bool
}

// SetupMessage is the first message sent on a connection.
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// Setup is the body of a [SetupMessage].
type Setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         GenerationConfig `json:"generationConfig"`
	SystemInstruction        *Content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

// GenerationConfig controls the model's output.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// NewSetupMessage builds the setup message for cfg.
func NewSetupMessage(cfg SetupConfig) SetupMessage {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}

	msg := SetupMessage{
		Setup: Setup{
			Model:            model,
			GenerationConfig: GenerationConfig{ResponseModalities: modalities},
		},
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: VoiceConfig{
				PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── Client content ─────────────────────────────────────────────────────────────

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one text or inline-data element of a [Content].
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64-encoded media.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// ClientContentMessage sends conversational turns.
type ClientContentMessage struct {
	ClientContent ClientContent `json:"clientContent"`
}

type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// NewTextMessage wraps text as a complete user turn.
func NewTextMessage(text string) ClientContentMessage {
	return ClientContentMessage{
		ClientContent: ClientContent{
			Turns:        []Content{{Role: "user", Parts: []Part{{Text: text}}}},
			TurnComplete: true,
		},
	}
}

// RealtimeInputMessage streams media. It never completes a turn.
type RealtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

type RealtimeInput struct {
	MediaChunks []InlineData `json:"mediaChunks"`
}

// PCMMimeType returns the MIME type for 16-bit PCM at rate Hz.
func PCMMimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// NewAudioMessage wraps frame as a single media chunk.
func NewAudioMessage(frame audio.AudioFrame) RealtimeInputMessage {
	rate := frame.SampleRate
	if rate <= 0 {
		rate = audio.CaptureRate
	}
	return RealtimeInputMessage{
		RealtimeInput: RealtimeInput{
			MediaChunks: []InlineData{{
				MIMEType: PCMMimeType(rate),
				Data:     audio.EncodeBase64PCM(frame.Samples),
			}},
		},
	}
}

// ── Server messages ────────────────────────────────────────────────────────────

// ServerMessage is any message received from the server. At most a few of the
// fields are set on a given message.
type ServerMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *ServerContent   `json:"serverContent,omitempty"`
	GoAway        *GoAway          `json:"goAway,omitempty"`
	Error         *Error           `json:"error,omitempty"`
}

// ServerContent is incremental model output.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type Transcription struct {
	Text string `json:"text"`
}

// GoAway announces that the server will close the connection soon.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// Error is an error payload sent by the server.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Sprintf("gemini: %s (%s)", msg, e.Status)
	}
	return "gemini: " + msg
}

// ParseServerMessage decodes one inbound payload.
func ParseServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("gemini: parse server message: %w", err)
	}
	return &msg, nil
}

// AudioFrames decodes every inline audio/pcm part of the model turn into a
// frame. Parts that fail to decode or are empty are skipped. The rate is read
// from the MIME type, defaulting to 24 kHz.
func (m *ServerMessage) AudioFrames(now time.Time) []audio.AudioFrame {
	if m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return nil
	}
	var frames []audio.AudioFrame
	for _, p := range m.ServerContent.ModelTurn.Parts {
		if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/pcm") {
			continue
		}
		samples, err := audio.DecodeBase64PCM(p.InlineData.Data)
		if err != nil || len(samples) == 0 {
			continue
		}
		frames = append(frames, audio.AudioFrame{
			Samples:    samples,
			SampleRate: mimeRate(p.InlineData.MIMEType, audio.PlaybackRate),
			Timestamp:  now,
		})
	}
	return frames
}

// Text returns the concatenated text parts of the model turn.
func (m *ServerMessage) Text() string {
	if m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range m.ServerContent.ModelTurn.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// mimeRate parses the rate parameter of an audio/pcm MIME type.
func mimeRate(mime string, def int) int {
	_, params, ok := strings.Cut(mime, ";")
	if !ok {
		return def
	}
	for p := range strings.SplitSeq(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || k != "rate" {
			continue
		}
		var rate int
		if _, err := fmt.Sscanf(v, "%d", &rate); err == nil && rate > 0 {
			return rate
		}
	}
	return def
}
