// Package voice ties the session manager, capture pipeline and playback
// pipeline into the single control surface callers use.
//
// The facade owns the cross-component rules: inbound audio reaches playback
// only while connected, a server interruption stops playback, leaving the
// connected state stops playback, and reaching disconnected or error also
// stops capture.
package voice

import (
	"context"

	"github.com/MrWong99/livevoice/internal/capture"
	"github.com/MrWong99/livevoice/internal/playback"
	"github.com/MrWong99/livevoice/internal/session"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s/gemini"
)

// Status is the observable state of a voice session.
type Status struct {
	SessionID   string        `json:"session_id"`
	Connection  session.State `json:"connection"`
	Capturing   bool          `json:"capturing"`
	Playing     bool          `json:"playing"`
	InputLevel  float64       `json:"input_level"`
	OutputLevel float64       `json:"output_level"`

	// Error is the most relevant error message, or empty. Connection errors
	// take precedence over capture errors.
	Error string `json:"error,omitempty"`
}

// Voice is the caller-facing voice session.
type Voice struct {
	mgr      *session.Manager
	capture  *capture.Pipeline
	playback *playback.Pipeline
}

// New wires mgr, cp and pb together. cp should have been built with
// [capture.WithGate] reporting mgr's connected state and with mgr.SendAudio
// as its sink; see [CaptureGate].
func New(mgr *session.Manager, cp *capture.Pipeline, pb *playback.Pipeline) *Voice {
	v := &Voice{mgr: mgr, capture: cp, playback: pb}

	mgr.OnAudio(func(f audio.AudioFrame) {
		if mgr.State() == session.StateConnected {
			pb.BufferInboundFrame(f)
		}
	})
	mgr.OnMessage(func(m *gemini.ServerMessage) {
		if m.ServerContent != nil && m.ServerContent.Interrupted {
			pb.StopPlayback()
		}
	})
	mgr.OnStateChange(func(from, to session.State) {
		if from == session.StateConnected && to != session.StateConnected {
			pb.StopPlayback()
		}
		if to == session.StateDisconnected || to == session.StateError {
			cp.Stop()
		}
	})
	return v
}

// CaptureGate returns a capture gate that is open while mgr is connected.
func CaptureGate(mgr *session.Manager) func() bool {
	return func() bool { return mgr.State() == session.StateConnected }
}

// Connect opens the session. See [session.Manager.Connect].
func (v *Voice) Connect(ctx context.Context, credential string, setup gemini.SetupConfig) error {
	return v.mgr.Connect(ctx, credential, setup)
}

// Disconnect stops capture and playback and closes the session. It is
// idempotent.
func (v *Voice) Disconnect() {
	v.capture.Stop()
	v.playback.StopPlayback()
	v.mgr.Disconnect()
}

// StartCapture starts the microphone. It fails with
// [session.ErrNotConnected] unless the session is connected.
func (v *Voice) StartCapture(ctx context.Context) error {
	if v.mgr.State() != session.StateConnected {
		return session.ErrNotConnected
	}
	return v.capture.Start(ctx)
}

// StopCapture stops the microphone. It is idempotent.
func (v *Voice) StopCapture() {
	v.capture.Stop()
}

// SendText sends a complete user text turn.
func (v *Voice) SendText(text string) error {
	return v.mgr.SendText(text)
}

// Status returns a snapshot of the session.
func (v *Voice) Status() Status {
	snap := v.mgr.Snapshot()
	st := Status{
		SessionID:   snap.ID,
		Connection:  snap.State,
		Capturing:   v.capture.Recording(),
		Playing:     v.playback.Playing(),
		InputLevel:  v.capture.Level(),
		OutputLevel: v.playback.Level(),
	}
	switch {
	case snap.State == session.StateError && snap.LastError != nil:
		st.Error = snap.LastError.Error()
	case v.capture.Err() != nil:
		st.Error = v.capture.Err().Error()
	case snap.LastError != nil:
		st.Error = snap.LastError.Error()
	}
	return st
}
