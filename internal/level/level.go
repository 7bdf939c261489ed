// Package level measures per-channel audio levels in dBFS from decoded
// PCM frames.
package level

import (
	"fmt"
	"math"

	"github.com/zsiec/reel/internal/media"
)

const fullScale = 32767.0

// Calculator turns one sample per channel into the current level per
// channel. Implementations keep per-channel state.
type Calculator interface {
	Push(samples []int16) []float64
	Reset(channels int)
}

// K-weighting pre-filter coefficients (ITU-R BS.1770, 48 kHz).
const (
	shelfA1 = -1.69065929318241
	shelfA2 = 0.73248077421585
	shelfB0 = 1.53512485958697
	shelfB1 = -2.69169618940638
	shelfB2 = 1.19839281085285

	highPassA1 = -1.99004745483398
	highPassA2 = 0.99007225036621
	highPassB0 = 1.0
	highPassB1 = -2.0
	highPassB2 = 1.0
)

type biquad struct {
	z1, z2 float64
}

func (q *biquad) step(x, a1, a2, b0, b1, b2 float64) float64 {
	z0 := x - a1*q.z1 - a2*q.z2
	y := b0*z0 + b1*q.z1 + b2*q.z2
	q.z2, q.z1 = q.z1, z0
	return y
}

// Loudness applies the two-stage K-weighting filter to each channel and
// reports the instantaneous weighted level.
type Loudness struct {
	shelf, highPass []biquad
	levels          []float64
}

// NewLoudness returns a loudness calculator for channels.
func NewLoudness(channels int) *Loudness {
	l := &Loudness{}
	l.Reset(channels)
	return l
}

func (l *Loudness) Reset(channels int) {
	l.shelf = make([]biquad, channels)
	l.highPass = make([]biquad, channels)
	l.levels = make([]float64, channels)
}

func (l *Loudness) Push(samples []int16) []float64 {
	for ch := range l.levels {
		if ch >= len(samples) {
			break
		}
		x := math.Abs(float64(samples[ch]))
		y := l.shelf[ch].step(x, shelfA1, shelfA2, shelfB0, shelfB1, shelfB2)
		y = l.highPass[ch].step(y, highPassA1, highPassA2, highPassB0, highPassB1, highPassB2)
		l.levels[ch] = -0.691 + 10*math.Log10(max(math.Abs(y), 1)/fullScale)
	}
	return l.levels
}

// DefaultWindow is the Average calculator window in samples.
const DefaultWindow = 14400

// Average reports the mean absolute amplitude over a sliding window.
type Average struct {
	window int
	rings  [][]int16
	pos    int
	sums   []int64
	levels []float64
}

// NewAverage returns an average calculator over window samples.
func NewAverage(channels, window int) *Average {
	if window <= 0 {
		window = DefaultWindow
	}
	a := &Average{window: window}
	a.Reset(channels)
	return a
}

func (a *Average) Reset(channels int) {
	a.rings = make([][]int16, channels)
	for i := range a.rings {
		a.rings[i] = make([]int16, a.window)
	}
	a.sums = make([]int64, channels)
	a.levels = make([]float64, channels)
	a.pos = 0
}

func (a *Average) Push(samples []int16) []float64 {
	for ch := range a.levels {
		if ch >= len(samples) {
			break
		}
		v := int16(min(abs(int(samples[ch])), math.MaxInt16))
		a.sums[ch] += int64(v) - int64(a.rings[ch][a.pos])
		a.rings[ch][a.pos] = v
		avg := float64(a.sums[ch]) / float64(a.window)
		a.levels[ch] = 20 * math.Log10(max(avg, 1)/fullScale)
	}
	a.pos = (a.pos + 1) % a.window
	return a.levels
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Samples converts frame f to int16 samples, one []int16 of channel
// values per sample instant.
func Samples(f *media.AudioFrame) ([][]int16, error) {
	if f.Format.BytesPerSample() == 0 {
		return nil, fmt.Errorf("level: cannot meter %v audio", f.Format)
	}
	if f.Channels <= 0 {
		return nil, fmt.Errorf("level: frame has %d channels", f.Channels)
	}
	out := make([][]int16, f.Samples)
	for i := range out {
		row := make([]int16, f.Channels)
		for ch := range row {
			row[ch] = f.S16(i, ch)
		}
		out[i] = row
	}
	return out, nil
}
