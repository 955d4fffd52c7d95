package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/livevoice/pkg/audio"
)

func TestBytesSamplesRoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.BytesToSamples(audio.SamplesToBytes(in))
	assertSamples(t, got, in)
}

func TestBytesToSamples_OddLength(t *testing.T) {
	t.Parallel()
	// 5 bytes = 2 complete samples + 1 trailing byte.
	got := audio.BytesToSamples([]byte{0x64, 0x00, 0xC8, 0x00, 0xFF})
	assertSamples(t, got, []int16{100, 200})
}

func TestDecodeBase64PCM(t *testing.T) {
	t.Parallel()
	enc := audio.EncodeBase64PCM([]int16{1, -2, 300})
	got, err := audio.DecodeBase64PCM(enc)
	if err != nil {
		t.Fatalf("DecodeBase64PCM: %v", err)
	}
	assertSamples(t, got, []int16{1, -2, 300})

	if _, err := audio.DecodeBase64PCM("!!not base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestFloatConversion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"clamp positive", 1.5, 32767},
		{"clamp negative", -3, -32768},
		{"half", 0.5, 16384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Float32ToSamples([]float32{tt.in})
			if got[0] != tt.want {
				t.Errorf("Float32ToSamples(%v) = %d, want %d", tt.in, got[0], tt.want)
			}
		})
	}

	f := audio.SamplesToFloat32([]int16{-32768, 0, 16384})
	if f[0] != -1 || f[1] != 0 || f[2] != 0.5 {
		t.Errorf("SamplesToFloat32 = %v, want [-1 0 0.5]", f)
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()
	in := []int16{100, 200, 300}
	out := audio.ResampleMono16(in, 48000, 48000)
	if len(out) != len(in) || &out[0] != &in[0] {
		t.Fatal("expected input returned unchanged for equal rates")
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	t.Parallel()
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	got := audio.ResampleMono16([]int16{1000, 2000}, 16000, 48000)
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	got := audio.ResampleMono16([]int16{100, 200, 300, 400, 500, 600}, 48000, 16000)
	assertSamples(t, got, []int16{100, 400})
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	t.Parallel()
	in := []int16{100, 200}
	for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
		out := audio.ResampleMono16(in, rates[0], rates[1])
		if len(out) != len(in) {
			t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
		}
	}
}

// TestResampleSineTo16k checks that linear resampling of a 440 Hz sine lands
// within one LSB of the analytically interpolated value.
func TestResampleSineTo16k(t *testing.T) {
	t.Parallel()
	for _, srcRate := range []int{44100, 48000, 22050} {
		const n = 4410
		src := make([]float32, n)
		for i := range src {
			src[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/float64(srcRate)))
		}

		got := audio.Float32ToSamples(audio.ResampleFloat32(src, srcRate, audio.CaptureRate))
		wantLen := n * audio.CaptureRate / srcRate
		if len(got) != wantLen {
			t.Fatalf("%d Hz: got %d samples, want %d", srcRate, len(got), wantLen)
		}

		ratio := float64(srcRate) / float64(audio.CaptureRate)
		for i := range got {
			pos := float64(i) * ratio
			idx := int(pos)
			frac := pos - float64(idx)
			next := idx + 1
			if next >= n {
				next = idx
			}
			v := float64(src[idx])*(1-frac) + float64(src[next])*frac
			want := v * 32767
			if v < 0 {
				want = v * 32768
			}
			if d := math.Abs(float64(got[i]) - want); d > 1 {
				t.Fatalf("%d Hz sample %d: got %d, want %.2f (diff %.2f)", srcRate, i, got[i], want, d)
			}
		}
	}
}

func TestResampler_BlocksMatchContinuous(t *testing.T) {
	t.Parallel()
	for _, srcRate := range []int{48000, 44100} {
		const blocks, frames = 20, 1024
		src := make([]float32, blocks*frames)
		for i := range src {
			src[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/float64(srcRate)))
		}

		r := audio.NewResampler(srcRate, audio.CaptureRate)
		var got []float32
		for b := range blocks {
			got = append(got, r.Process(src[b*frames:(b+1)*frames])...)
		}

		want := audio.ResampleFloat32(src, srcRate, audio.CaptureRate)
		if d := len(got) - len(want); d < -1 || d > 1 {
			t.Fatalf("%d Hz: streamed %d samples, continuous %d", srcRate, len(got), len(want))
		}
		for i := range min(len(got), len(want)) {
			if d := math.Abs(float64(got[i] - want[i])); d > 1e-4 {
				t.Fatalf("%d Hz sample %d: streamed %v, continuous %v", srcRate, i, got[i], want[i])
			}
		}
	}
}

func TestFormatConverter_KeepsPhaseAcrossBlocks(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	src := audio.Format{SampleRate: 48000, Channels: 1}

	// A ramp makes any repeated or skipped input sample visible.
	total := 0
	var out []float32
	for b := range 12 {
		block := make([]float32, 1024)
		for i := range block {
			block[i] = float32(b*1024+i) / 1e5
		}
		out = append(out, conv.Convert(block, src)...)
		total += len(block)
	}

	wantLen := total * 16000 / 48000
	if d := len(out) - wantLen; d < -1 || d > 1 {
		t.Fatalf("got %d samples for %d input frames, want %d±1", len(out), total, wantLen)
	}
	for i, v := range out {
		if want := float32(3*i) / 1e5; math.Abs(float64(v-want)) > 1e-6 {
			t.Fatalf("sample %d = %v, want %v", i, v, want)
		}
	}
}

func TestDownmixFloat32(t *testing.T) {
	t.Parallel()
	got := audio.DownmixFloat32([]float32{0.2, 0.4, -0.5, 0.5}, 2)
	if len(got) != 2 || math.Abs(float64(got[0])-0.3) > 1e-6 || got[1] != 0 {
		t.Errorf("DownmixFloat32 = %v, want [0.3 0]", got)
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	block := []float32{0.1, 0.2}
	got := conv.Convert(block, audio.Format{SampleRate: 16000, Channels: 1})
	if &got[0] != &block[0] {
		t.Error("expected same slice for matching format")
	}
}

func TestFormatConverter_FullConversion(t *testing.T) {
	t.Parallel()
	// 48000 Hz stereo → 16000 Hz mono
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	block := make([]float32, 960) // 480 stereo frames
	for i := range block {
		block[i] = 0.25
	}
	got := conv.Convert(block, audio.Format{SampleRate: 48000, Channels: 2})
	if len(got) != 160 {
		t.Fatalf("expected 160 samples, got %d", len(got))
	}
	for i, s := range got {
		if math.Abs(float64(s)-0.25) > 1e-6 {
			t.Fatalf("sample %d: got %v, want 0.25", i, s)
		}
	}
}

func assertSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
