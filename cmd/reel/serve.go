package main

import (
	"context"
	"crypto/tls"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/certs"
	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/server"
)

func newServeCmd(g *globals) *cobra.Command {
	var (
		addr       string
		tlsCert    string
		tlsKey     string
		selfSigned bool
	)
	cmd := &cobra.Command{
		Use:   "serve [uri]",
		Short: "Run the HTTP control API, optionally playing uri at startup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd)
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			if fl.Changed("addr") {
				cfg.Addr = addr
			}
			if fl.Changed("tls-cert") {
				cfg.TLSCert = tlsCert
			}
			if fl.Changed("tls-key") {
				cfg.TLSKey = tlsKey
			}
			if fl.Changed("tls-self-signed") {
				cfg.TLSSelfSigned = selfSigned
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			tlsCfg, err := serverTLS(cfg, log)
			if err != nil {
				return err
			}
			e, err := newEngine(cfg, log)
			if err != nil {
				return err
			}
			defer logEvents(e.player, log)()

			srv := server.New(server.Config{
				Addr:    cfg.Addr,
				Player:  e.player,
				Ingest:  e.registry,
			Pulls:   e.srt,
				Metrics: e.metrics,
				Log:     log,
				TLS:     tlsCfg,
			})
			log.Info("reel starting", "version", version, "addr", cfg.Addr)

			grp, ctx := errgroup.WithContext(cmd.Context())
			grp.Go(func() error {
				return srv.Run(ctx)
			})
			if len(args) == 1 {
				grp.Go(func() error {
					if err := e.player.Open(ctx, catalog.SourceFor(args[0])); err != nil {
						log.Error("initial source failed", "uri", args[0], "error", err)
					}
					return nil
				})
			}
			grp.Go(func() error {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				return e.shutdown(sctx)
			})
			return grp.Wait()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", "", "listen address of the control API (default from REEL_ADDR)")
	fl.StringVar(&tlsCert, "tls-cert", "", "PEM certificate for HTTPS")
	fl.StringVar(&tlsKey, "tls-key", "", "PEM key for HTTPS")
	fl.BoolVar(&selfSigned, "tls-self-signed", false, "serve HTTPS with a generated localhost certificate")
	return cmd
}

// serverTLS returns the control API's TLS configuration, or nil for plain
// HTTP.
func serverTLS(cfg config.Config, log *slog.Logger) (*tls.Config, error) {
	var (
		cert tls.Certificate
		err  error
	)
	switch {
	case cfg.TLSSelfSigned:
		cert, err = certs.SelfSigned(0)
	case cfg.TLSCert != "":
		cert, err = certs.Load(cfg.TLSCert, cfg.TLSKey)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log.Info("tls enabled", "self_signed", cfg.TLSSelfSigned, "sha256", certs.Fingerprint(cert))
	return certs.ServerConfig(cert), nil
}
