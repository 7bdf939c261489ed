// Package config loads reel settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide settings. CLI flags override these values.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	ProbeBytes   int64
	MaxPacingGap time.Duration
	LevelRate    int
	LogLevel     string
	LogFormat    string
	WAVOut       string
	ESOut        string

	// TLSCert and TLSKey serve the control API over HTTPS.
	// TLSSelfSigned generates a certificate instead.
	TLSCert       string
	TLSKey        string
	TLSSelfSigned bool
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Config {
	return Config{
		Addr:         ":8090",
		ReadTimeout:  5 * time.Second,
		ProbeBytes:   2 << 20,
		MaxPacingGap: 5 * time.Second,
		LevelRate:    10,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads the given .env files (".env" when none are named) into the
// environment, then builds a Config from REEL_* variables. Missing .env
// files are ignored; malformed values are errors.
func Load(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: loading %s: %w", p, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a variable lookup.
func FromEnv(getenv func(string) string) (Config, error) {
	d := Defaults()
	e := env{get: getenv}
	c := Config{
		Addr:         e.str("REEL_ADDR", d.Addr),
		ReadTimeout:  e.duration("REEL_READ_TIMEOUT", d.ReadTimeout),
		ProbeBytes:   e.int64("REEL_PROBE_BYTES", d.ProbeBytes),
		MaxPacingGap: e.duration("REEL_MAX_PACING_GAP", d.MaxPacingGap),
		LevelRate:    int(e.int64("REEL_LEVEL_RATE", int64(d.LevelRate))),
		LogLevel:     strings.ToLower(e.str("REEL_LOG_LEVEL", d.LogLevel)),
		LogFormat:    strings.ToLower(e.str("REEL_LOG_FORMAT", d.LogFormat)),
		WAVOut:       e.str("REEL_WAV_OUT", ""),
		ESOut:        e.str("REEL_ES_OUT", ""),

		TLSCert:       e.str("REEL_TLS_CERT", ""),
		TLSKey:        e.str("REEL_TLS_KEY", ""),
		TLSSelfSigned: e.bool("REEL_TLS_SELF_SIGNED", false),
	}
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: read timeout %v is negative", c.ReadTimeout))
	}
	if c.ProbeBytes < 0 {
		errs = append(errs, fmt.Errorf("config: probe bytes %d is negative", c.ProbeBytes))
	}
	if c.LevelRate <= 0 {
		errs = append(errs, fmt.Errorf("config: level rate %d must be positive", c.LevelRate))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("config: TLS certificate and key must be set together"))
	}
	if c.TLSSelfSigned && c.TLSCert != "" {
		errs = append(errs, errors.New("config: self-signed TLS conflicts with a certificate file"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("config: log format %q, want text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger described by LogLevel and LogFormat.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
}

// env collects parse errors so every bad variable is reported at once.
type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, fallback string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return fallback
}

func (e *env) int64(key string, fallback int64) int64 {
	v := e.get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s=%q: %w", key, v, err))
		return fallback
	}
	return n
}

func (e *env) bool(key string, fallback bool) bool {
	v := e.get(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s=%q: %w", key, v, err))
		return fallback
	}
	return b
}

// TLS reports whether the control API is served over HTTPS.
func (c Config) TLS() bool {
	return c.TLSSelfSigned || c.TLSCert != ""
}

// duration accepts Go durations ("750ms") and bare seconds ("5").
func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.get(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s=%q: %w", key, v, err))
		return fallback
	}
	return d
}
