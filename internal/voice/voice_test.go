package voice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livevoice/internal/capture"
	"github.com/MrWong99/livevoice/internal/playback"
	"github.com/MrWong99/livevoice/internal/session"
	"github.com/MrWong99/livevoice/pkg/audio"
	audiomock "github.com/MrWong99/livevoice/pkg/audio/mock"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
	"github.com/MrWong99/livevoice/pkg/provider/s2s/gemini"
	s2smock "github.com/MrWong99/livevoice/pkg/provider/s2s/mock"
)

const testKey = "AIzaSyTestKey0123456789abcdefghijkl"

type fixture struct {
	voice   *Voice
	dialer  *s2smock.Dialer
	stream  *audiomock.InputStream
	mic     *audiomock.Microphone
	speaker *audiomock.Speaker
}

func newFixture(t *testing.T, dialer *s2smock.Dialer) *fixture {
	t.Helper()
	if dialer == nil {
		dialer = &s2smock.Dialer{}
	}
	mgr := session.New(dialer, session.Config{
		Reconnect:         session.ReconnectPolicy{Delay: 5 * time.Millisecond},
		KeepaliveInterval: -1,
	})
	stream := &audiomock.InputStream{Realtime: true}
	mic := &audiomock.Microphone{OpenResult: stream}
	cp := capture.New(mic, mgr.SendAudio, capture.Config{}, capture.WithGate(CaptureGate(mgr)))
	sp := &audiomock.Speaker{}
	pb := playback.New(sp.Open, playback.Config{})

	f := &fixture{
		voice:   New(mgr, cp, pb),
		dialer:  dialer,
		stream:  stream,
		mic:     mic,
		speaker: sp,
	}
	t.Cleanup(f.voice.Disconnect)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func audioPayload(n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 1000
	}
	data := audio.EncodeBase64PCM(samples)
	return []byte(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + data + `"}}]}}}`)
}

func TestVoice_StartCaptureRequiresConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.voice.StartCapture(context.Background()); !errors.Is(err, session.ErrNotConnected) {
		t.Errorf("StartCapture error = %v, want ErrNotConnected", err)
	}
	if f.mic.CallCountOpen != 0 {
		t.Error("microphone opened while disconnected")
	}
}

func TestVoice_CaptureSendsAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.voice.Connect(context.Background(), testKey, gemini.SetupConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.voice.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}

	block := make([]float32, 960)
	for i := range block {
		block[i] = 0.25
	}
	f.stream.Emit(block)

	sent := f.dialer.Last().Sent()
	if len(sent) != 2 {
		t.Fatalf("expected setup + audio, got %d messages", len(sent))
	}
	if !strings.Contains(string(sent[1]), `"audio/pcm;rate=16000"`) {
		t.Errorf("unexpected audio message %s", sent[1])
	}

	st := f.voice.Status()
	if !st.Capturing || st.InputLevel <= 0 || st.Connection != session.StateConnected {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestVoice_InboundAudioPlays(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.voice.Connect(context.Background(), testKey, gemini.SetupConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	f.dialer.Last().Deliver(audioPayload(960))
	waitFor(t, "playback", func() bool { return f.voice.Status().Playing })

	if n := len(f.speaker.PlayedBuffers()); n != 1 {
		t.Fatalf("played %d buffers, want 1", n)
	}
	if f.voice.Status().OutputLevel <= 0 {
		t.Error("expected output level while playing")
	}
}

func TestVoice_InterruptionStopsPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.voice.Connect(context.Background(), testKey, gemini.SetupConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := f.dialer.Last()
	conn.Deliver(audioPayload(960))
	waitFor(t, "playback", func() bool { return f.voice.Status().Playing })

	conn.Deliver([]byte(`{"serverContent":{"interrupted":true}}`))
	waitFor(t, "playback stopped", func() bool { return !f.voice.Status().Playing })
	if f.voice.Status().Connection != session.StateConnected {
		t.Error("interruption changed connection state")
	}
}

func TestVoice_ConnectionLossStopsPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &s2smock.Dialer{Errors: []error{nil}, FailAll: errors.New("refused")})
	if err := f.voice.Connect(context.Background(), testKey, gemini.SetupConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.voice.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	conn := f.dialer.Last()
	conn.Deliver(audioPayload(960))
	waitFor(t, "playback", func() bool { return f.voice.Status().Playing })

	conn.CloseWith(s2s.StatusAbnormalClosure, "")
	waitFor(t, "playback stopped", func() bool { return !f.voice.Status().Playing })

	// Reconnects exhaust; error state stops capture too.
	waitFor(t, "error state", func() bool { return f.voice.Status().Connection == session.StateError })
	waitFor(t, "capture stopped", func() bool { return !f.voice.Status().Capturing })

	st := f.voice.Status()
	if !strings.Contains(st.Error, "maximum reconnection attempts") {
		t.Errorf("Status.Error = %q", st.Error)
	}
}

func TestVoice_DeviceErrorKeepsConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.mic.OpenError = errors.New("permission denied by user")
	if err := f.voice.Connect(context.Background(), testKey, gemini.SetupConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := f.voice.StartCapture(context.Background()); err == nil {
		t.Fatal("expected StartCapture error")
	}
	st := f.voice.Status()
	if st.Connection != session.StateConnected {
		t.Errorf("connection = %v, want connected", st.Connection)
	}
	want := audio.DeviceNotAllowed.Message()
	if !strings.Contains(st.Error, want) {
		t.Errorf("Status.Error = %q, want it to contain %q", st.Error, want)
	}
}

func TestVoice_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.voice.Connect(context.Background(), testKey, gemini.SetupConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.voice.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}

	f.voice.Disconnect()
	f.voice.Disconnect()

	st := f.voice.Status()
	if st.Connection != session.StateDisconnected || st.Capturing || st.Playing || st.Error != "" {
		t.Errorf("unexpected status after disconnect: %+v", st)
	}
	if f.stream.CallCountClose != 1 {
		t.Errorf("stream closed %d times, want 1", f.stream.CallCountClose)
	}
}
