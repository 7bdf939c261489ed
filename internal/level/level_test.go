package level

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/zsiec/reel/internal/media"
)

func s16Frame(rate, channels int, samples ...int16) *media.AudioFrame {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return &media.AudioFrame{
		Format:     media.SampleFormatS16,
		SampleRate: rate,
		Channels:   channels,
		Samples:    len(samples) / channels,
		Data:       [][]byte{buf},
	}
}

func TestAverageSilenceFloor(t *testing.T) {
	t.Parallel()
	a := NewAverage(2, 4)
	levels := a.Push([]int16{0, 0})
	want := 20 * math.Log10(1/fullScale)
	for ch, l := range levels {
		if math.Abs(l-want) > 1e-9 {
			t.Errorf("channel %d: got %f, want %f", ch, l, want)
		}
	}
}

func TestAverageFullScale(t *testing.T) {
	t.Parallel()
	a := NewAverage(1, 4)
	var levels []float64
	for range 4 {
		levels = a.Push([]int16{-32767})
	}
	if math.Abs(levels[0]) > 1e-9 {
		t.Errorf("got %f dB, want 0", levels[0])
	}
	// The window slides: four silent samples bring it back to the floor.
	for range 4 {
		levels = a.Push([]int16{0})
	}
	if want := 20 * math.Log10(1/fullScale); math.Abs(levels[0]-want) > 1e-9 {
		t.Errorf("got %f dB, want %f", levels[0], want)
	}
}

func TestAverageMinInt16(t *testing.T) {
	t.Parallel()
	a := NewAverage(1, 1)
	levels := a.Push([]int16{math.MinInt16})
	if levels[0] > 0 {
		t.Errorf("got %f dB, want <= 0", levels[0])
	}
}

func TestLoudnessSilence(t *testing.T) {
	t.Parallel()
	l := NewLoudness(1)
	var levels []float64
	for range 100 {
		levels = l.Push([]int16{0})
	}
	want := -0.691 + 10*math.Log10(1/fullScale)
	if math.Abs(levels[0]-want) > 1e-9 {
		t.Errorf("got %f, want %f", levels[0], want)
	}
}

func TestLoudnessIgnoresMissingChannels(t *testing.T) {
	t.Parallel()
	l := NewLoudness(2)
	levels := l.Push([]int16{1000})
	if len(levels) != 2 {
		t.Fatalf("got %d levels, want 2", len(levels))
	}
	if levels[1] != 0 {
		t.Errorf("channel 1: got %f, want untouched 0", levels[1])
	}
}

func TestSamplesFormats(t *testing.T) {
	t.Parallel()
	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32, math.Float32bits(2.0))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-0.5))

	s32 := make([]byte, 4)
	binary.LittleEndian.PutUint32(s32, uint32(0x12340000))

	tests := []struct {
		name  string
		frame *media.AudioFrame
		want  [][]int16
	}{
		{
			name:  "u8",
			frame: &media.AudioFrame{Format: media.SampleFormatU8, Channels: 1, Samples: 2, Data: [][]byte{{128, 255}}},
			want:  [][]int16{{0}, {127 << 8}},
		},
		{
			name:  "s16 interleaved",
			frame: s16Frame(48000, 2, 1, -2, 3, -4),
			want:  [][]int16{{1, -2}, {3, -4}},
		},
		{
			name:  "s32",
			frame: &media.AudioFrame{Format: media.SampleFormatS32, Channels: 1, Samples: 1, Data: [][]byte{s32}},
			want:  [][]int16{{0x1234}},
		},
		{
			name:  "f32 planar clamps",
			frame: &media.AudioFrame{Format: media.SampleFormatF32, Channels: 2, Samples: 1, Planar: true, Data: [][]byte{f32[:4], f32[4:]}},
			want:  [][]int16{{32767, -16383}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Samples(tt.frame)
			if err != nil {
				t.Fatalf("Samples: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d rows, want %d", len(got), len(tt.want))
			}
			for i := range got {
				for ch := range got[i] {
					if got[i][ch] != tt.want[i][ch] {
						t.Errorf("row %d ch %d: got %d, want %d", i, ch, got[i][ch], tt.want[i][ch])
					}
				}
			}
		})
	}
}

func TestSamplesRejectsEncoded(t *testing.T) {
	t.Parallel()
	_, err := Samples(&media.AudioFrame{Format: media.SampleFormatEncoded, Channels: 2, Samples: 1})
	if err == nil {
		t.Fatal("expected error for encoded audio")
	}
}

func TestMeterCadence(t *testing.T) {
	t.Parallel()
	var updates [][]float64
	m := NewMeter(nil, func(l []float64) { updates = append(updates, l) }, WithUpdateRate(4))

	// 8 Hz with 4 updates per second: one update every 2 samples.
	m.Push(s16Frame(8, 1, 100, 100, 100, 100, 100))
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	m.Push(s16Frame(8, 1, 100))
	if len(updates) != 3 {
		t.Fatalf("got %d updates, want 3", len(updates))
	}
	if len(updates[0]) != 1 {
		t.Errorf("got %d channels, want 1", len(updates[0]))
	}
}

func TestMeterResetsOnChannelChange(t *testing.T) {
	t.Parallel()
	var updates [][]float64
	m := NewMeter(nil, func(l []float64) { updates = append(updates, l) }, WithUpdateRate(1), WithAverage(2))
	m.Push(s16Frame(1, 1, 5))
	m.Push(s16Frame(1, 2, 5, 5))
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if len(updates[1]) != 2 {
		t.Errorf("got %d channels after change, want 2", len(updates[1]))
	}
}

func TestMeterIgnoresInvalid(t *testing.T) {
	t.Parallel()
	called := false
	m := NewMeter(nil, func([]float64) { called = true }, WithUpdateRate(0))
	if m.updateRate != DefaultUpdateRate {
		t.Errorf("got update rate %d, want default %d", m.updateRate, DefaultUpdateRate)
	}
	m.Push(s16Frame(0, 1, 1))
	m.Push(&media.AudioFrame{Format: media.SampleFormatEncoded, SampleRate: 48000, Channels: 2})
	if called {
		t.Error("meter reported levels for invalid frames")
	}
}
