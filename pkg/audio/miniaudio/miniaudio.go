// Package miniaudio implements [audio.Microphone] and [audio.Speaker] on top of
// the miniaudio library via github.com/gen2brain/malgo.
//
// A single [Context] owns the malgo backend context. Capture streams and the
// playback speaker are devices opened from it:
//
//	mctx, err := miniaudio.Init()
//	...
//	defer mctx.Close()
//	mic := mctx.Microphone(48000)
//	spk, err := mctx.OpenSpeaker(ctx)
package miniaudio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// periodMillis is the device period requested for both directions.
const periodMillis = 20

// DeviceInfo describes a device reported by the backend.
type DeviceInfo struct {
	Name    string
	Capture bool
}

// Context wraps a malgo backend context. It is safe for concurrent use.
type Context struct {
	mctx *malgo.AllocatedContext

	closeOnce sync.Once
}

// Init initialises the default miniaudio backend.
func Init() (*Context, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, cfg, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, audio.ClassifyDeviceError(fmt.Errorf("miniaudio: init context: %w", err))
	}
	return &Context{mctx: mctx}, nil
}

// Close releases the backend context. Safe to call more than once.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		_ = c.mctx.Uninit()
		c.mctx.Free()
	})
	return nil
}

// Devices lists the capture and playback devices known to the backend.
func (c *Context) Devices() ([]DeviceInfo, error) {
	var out []DeviceInfo
	for _, kind := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		infos, err := c.mctx.Devices(kind)
		if err != nil {
			return nil, fmt.Errorf("miniaudio: list devices: %w", err)
		}
		for _, info := range infos {
			out = append(out, DeviceInfo{Name: info.Name(), Capture: kind == malgo.Capture})
		}
	}
	return out, nil
}

// float32Block decodes little-endian f32 samples from raw into dst, growing
// it as needed.
func float32Block(dst []float32, raw []byte) []float32 {
	n := len(raw) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return dst
}
