package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/reel/internal/config"
)

// globals holds the persistent flags. Flags left unset fall back to the
// environment and .env values.
type globals struct {
	envFile      string
	logLevel     string
	logFormat    string
	readTimeout  time.Duration
	maxPacingGap time.Duration
	probeBytes   int64
	levelRate    int
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "reel",
		Short:        "Play, probe and serve MPEG-TS streams and audio files",
		Version:      version,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.envFile, "env-file", ".env", "dotenv file read before the environment")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	pf.DurationVar(&g.readTimeout, "read-timeout", 0, "stop when no packet is read for this long (0 disables)")
	pf.DurationVar(&g.maxPacingGap, "max-pacing-gap", 0, "backward timestamp step that re-anchors the pacing clock")
	pf.Int64Var(&g.probeBytes, "probe-bytes", 0, "bytes of a transport stream read while discovering programs")
	pf.IntVar(&g.levelRate, "level-rate", 0, "audio level updates per second")

	root.AddCommand(newPlayCmd(g), newProbeCmd(g), newServeCmd(g))
	return root
}

// load builds the configuration and installs the process logger.
func (g *globals) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = g.logFormat
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout = g.readTimeout
	}
	if flags.Changed("max-pacing-gap") {
		cfg.MaxPacingGap = g.maxPacingGap
	}
	if flags.Changed("probe-bytes") {
		cfg.ProbeBytes = g.probeBytes
	}
	if flags.Changed("level-rate") {
		cfg.LevelRate = g.levelRate
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	log := cfg.Logger(cmd.ErrOrStderr())
	slog.SetDefault(log)
	return cfg, log, nil
}
