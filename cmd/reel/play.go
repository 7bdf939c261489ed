package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/player"
)

const shutdownTimeout = 5 * time.Second

type playFlags struct {
	wavOut  string
	esOut   string
	live    bool
	program int
	video   int
	audio   int
}

func newPlayCmd(g *globals) *cobra.Command {
	f := &playFlags{}
	cmd := &cobra.Command{
		Use:   "play <uri>",
		Short: "Play a source until it ends or the process is interrupted",
		Long: `Play opens a file, udp:// or srt:// source, selects the first video and
audio stream (or the ones given by flags) and paces decoded frames to the
configured outputs in real time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("wav") {
				cfg.WAVOut = f.wavOut
			}
			if cmd.Flags().Changed("es") {
				cfg.ESOut = f.esOut
			}
			e, err := newEngine(cfg, log)
			if err != nil {
				return err
			}
			defer logEvents(e.player, log)()

			src := catalog.SourceFor(args[0])
			if f.live {
				src.Kind = catalog.SourceStream
			}
			return f.run(cmd, e, src)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.wavOut, "wav", "", "write decoded audio to this WAV file")
	fl.StringVar(&f.esOut, "es", "", "write compressed frames to this elementary stream file")
	fl.BoolVar(&f.live, "live", false, "treat the source as a live stream")
	fl.IntVar(&f.program, "program", 0, "play the program with this id")
	fl.IntVar(&f.video, "video", catalog.None, "index of the video stream (-1 disables video)")
	fl.IntVar(&f.audio, "audio", catalog.None, "index of the audio stream (-1 disables audio)")
	return cmd
}

// run loads src, applies the stream selection and plays until the session
// ends or the command context is cancelled.
func (f *playFlags) run(cmd *cobra.Command, e *engine, src catalog.Source) (err error) {
	ctx := cmd.Context()
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if serr := e.shutdown(sctx); err == nil {
			err = serr
		}
	}()

	ended := make(chan struct{})
	var once sync.Once
	defer e.player.Subscribe(func(ev player.Event) {
		if ev.Kind == player.EventState && ev.State == player.Stopped {
			once.Do(func() { close(ended) })
		}
	})()

	if err := e.player.Load(ctx, src); err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("program") {
		if err := e.player.SwitchProgram(ctx, f.program); err != nil {
			return fmt.Errorf("selecting program %d: %w", f.program, err)
		}
	}
	if flags.Changed("video") {
		if err := e.player.SwitchStream(ctx, media.KindVideo, f.video); err != nil {
			return fmt.Errorf("selecting video stream %d: %w", f.video, err)
		}
	}
	if flags.Changed("audio") {
		if err := e.player.SwitchStream(ctx, media.KindAudio, f.audio); err != nil {
			return fmt.Errorf("selecting audio stream %d: %w", f.audio, err)
		}
	}
	if err := e.player.Play(ctx); err != nil {
		return err
	}

	select {
	case <-ended:
		e.log.Info("playback finished")
	case <-ctx.Done():
		e.log.Info("playback interrupted")
	}
	return nil
}
