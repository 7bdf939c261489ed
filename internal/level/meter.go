package level

import (
	"log/slog"

	"github.com/zsiec/reel/internal/media"
)

// DefaultUpdateRate is how many level updates the meter emits per second.
const DefaultUpdateRate = 10

// Meter feeds decoded audio through a Calculator and reports levels
// UpdateRate times per second of audio.
type Meter struct {
	log        *slog.Logger
	newCalc    func(channels int) Calculator
	calc       Calculator
	channels   int
	sampleRate int
	updateRate int
	every      int
	count      int
	onLevels   func([]float64)
}

// Option configures a Meter.
type Option func(*Meter)

// WithAverage switches the meter from K-weighted loudness to the sliding
// average calculator.
func WithAverage(window int) Option {
	return func(m *Meter) {
		m.newCalc = func(ch int) Calculator { return NewAverage(ch, window) }
	}
}

// WithUpdateRate sets updates per second. Non-positive values are ignored.
func WithUpdateRate(rate int) Option {
	return func(m *Meter) {
		if rate > 0 {
			m.updateRate = rate
		}
	}
}

// NewMeter returns a meter that calls onLevels with a fresh slice for
// every update.
func NewMeter(log *slog.Logger, onLevels func([]float64), opts ...Option) *Meter {
	if log == nil {
		log = slog.Default()
	}
	m := &Meter{
		log:        log.With("component", "level-meter"),
		newCalc:    func(ch int) Calculator { return NewLoudness(ch) },
		updateRate: DefaultUpdateRate,
		onLevels:   onLevels,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Push meters one frame. Encoded frames are skipped.
func (m *Meter) Push(f *media.AudioFrame) {
	if f.Format == media.SampleFormatEncoded {
		return
	}
	if f.SampleRate <= 0 {
		m.log.Debug("invalid sample rate", "rate", f.SampleRate)
		return
	}
	if m.calc == nil || f.Channels != m.channels {
		m.calc = m.newCalc(f.Channels)
		m.channels = f.Channels
		m.count = 0
	}
	if f.SampleRate != m.sampleRate {
		m.sampleRate = f.SampleRate
		m.every = max(1, m.sampleRate/m.updateRate)
	}

	rows, err := Samples(f)
	if err != nil {
		m.log.Debug("skipping frame", "error", err)
		return
	}
	for _, row := range rows {
		levels := m.calc.Push(row)
		if m.count++; m.count >= m.every {
			m.count = 0
			if m.onLevels != nil {
				m.onLevels(append([]float64(nil), levels...))
			}
		}
	}
}
