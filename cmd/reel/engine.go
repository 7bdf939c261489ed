package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/codec"
	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/filter"
	"github.com/zsiec/reel/internal/ingest"
	"github.com/zsiec/reel/internal/ingest/srt"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/player"
	"github.com/zsiec/reel/internal/sink"
)

// engine is one player with its sources, sinks and metrics.
type engine struct {
	cfg      config.Config
	log      *slog.Logger
	registry *ingest.Registry
	srt      *srt.Caller
	metrics  *metrics.Metrics
	player   *player.Machine

	// closers run in reverse order once the player has stopped.
	closers []func() error
}

func newEngine(cfg config.Config, log *slog.Logger) (*engine, error) {
	e := &engine{
		cfg:      cfg,
		log:      log,
		registry: ingest.NewRegistry(),
	}
	e.srt = srt.NewCaller(e.registry, log)
	e.metrics = metrics.New(e.ingestBytes)

	var (
		video   sink.MultiVideo
		audio   sink.MultiAudio
		caption = sink.MultiCaption{sink.NewCaptionLog(log)}
	)
	if cfg.WAVOut != "" {
		f, err := os.Create(cfg.WAVOut)
		if err != nil {
			return nil, fmt.Errorf("creating wav output: %w", err)
		}
		w := sink.NewWAVWriter(f)
		audio = append(audio, w)
		e.closers = append(e.closers, f.Close, w.Close)
	}
	if cfg.ESOut != "" {
		f, err := os.Create(cfg.ESOut)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("creating es output: %w", err)
		}
		d := sink.NewESDump(f)
		video = append(video, d)
		audio = append(audio, d)
		e.closers = append(e.closers, f.Close)
	}

	e.player = player.New(player.OpenerFunc(e.open), player.Config{
		ReadTimeout:  cfg.ReadTimeout,
		MaxPacingGap: cfg.MaxPacingGap,
		LevelRate:    cfg.LevelRate,
		Codecs:       codec.DefaultRegistry(),
		Filters:      filter.DefaultChain(),
		VideoSink:    video,
		AudioSink:    audio,
		CaptionSink:  caption,
	}, player.WithLogger(log), player.WithMetrics(e.metrics))
	return e, nil
}

func (e *engine) open(ctx context.Context, src catalog.Source, interrupt func() bool) (player.Container, error) {
	return demux.Open(ctx, src, demux.Options{
		Interrupt:  interrupt,
		ProbeBytes: e.cfg.ProbeBytes,
		Registry:   e.registry,
		SRT:        e.srt,
		Log:        e.log,
	})
}

func (e *engine) ingestBytes() float64 {
	return float64(e.registry.TotalBytes())
}

// shutdown stops the player and finalizes the outputs.
func (e *engine) shutdown(ctx context.Context) error {
	err := e.player.Stop(ctx)
	return errors.Join(err, e.close())
}

func (e *engine) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// logEvents reports player events on log until the returned function is
// called.
func logEvents(m *player.Machine, log *slog.Logger) func() {
	return m.Subscribe(func(ev player.Event) {
		switch ev.Kind {
		case player.EventState:
			log.Info("state changed", "state", ev.State.String())
		case player.EventStreams:
			for _, sd := range ev.Streams {
				log.Info("stream",
					"index", sd.Index,
					"label", sd.Label(),
					"kind", sd.Kind.String(),
					"codec", sd.Params.Codec,
				)
			}
		case player.EventPrograms:
			for _, pd := range ev.Programs {
				log.Info("program", "label", pd.Label(), "streams", pd.Streams)
			}
		case player.EventLevels:
			log.Debug("levels", "db", ev.Levels)
		}
	})
}
