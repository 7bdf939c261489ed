package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/url"
	"slices"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/reel/internal/ingest"
)

const (
	// Seven transport packets, the usual SRT live payload.
	payloadSize = 7 * 188
	readSize    = 10 * payloadSize

	// latency is the receiver latency in nanoseconds.
	latency = 120_000_000

	DefaultDialTimeout = 10 * time.Second
)

var (
	ErrPullActive  = errors.New("srt: pull already active")
	ErrNoPull      = errors.New("srt: no active pull")
	errDialTimeout = errors.New("srt: dial timed out")
)

// Target is a parsed srt:// URI.
type Target struct {
	Address  string
	StreamID string
}

// ParseURI parses srt://host:port[?streamid=ID].
func ParseURI(uri string) (Target, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Target{}, fmt.Errorf("srt: parsing %q: %w", uri, err)
	}
	if u.Scheme != "srt" {
		return Target{}, fmt.Errorf("srt: %q is not an srt URI", uri)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return Target{}, fmt.Errorf("srt: %q: %w", uri, err)
	}
	return Target{Address: u.Host, StreamID: u.Query().Get("streamid")}, nil
}

// Caller pulls srt:// sources in caller mode and registers each as an
// ingest source keyed by its URI. At most one pull runs per URI.
type Caller struct {
	log         *slog.Logger
	reg         *ingest.Registry
	dialTimeout time.Duration

	mu sync.Mutex
	// pulls maps a URI to the cancel func of its pull; nil while dialing.
	pulls map[string]context.CancelFunc
}

// NewCaller returns a Caller registering pulls with reg. A nil log uses
// slog.Default().
func NewCaller(reg *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:         log.With("component", "srt-caller"),
		reg:         reg,
		dialTimeout: DefaultDialTimeout,
		pulls:       make(map[string]context.CancelFunc),
	}
}

// Open dials uri and returns once the handshake completes. The source is
// fed in the background until it is closed, the remote ends or ctx is
// done.
func (c *Caller) Open(ctx context.Context, uri string) (*ingest.Source, error) {
	target, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if !c.claim(uri) {
		return nil, fmt.Errorf("%w: %s", ErrPullActive, uri)
	}

	c.log.Info("dialing", "address", target.Address, "stream_id", target.StreamID)
	conn, err := c.dial(ctx, target)
	if err != nil {
		c.release(uri)
		return nil, err
	}
	c.log.Info("connected", "address", target.Address, "stream_id", target.StreamID)

	src, w := c.reg.Register(uri, uri)
	src.SetPeer(target.Address)

	pctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.pulls[uri] = cancel
	c.mu.Unlock()

	go func() {
		select {
		case <-pctx.Done():
		case <-src.Done():
		}
		conn.Close()
	}()
	go c.pump(pctx, uri, conn, src, w)
	return src, nil
}

func (c *Caller) claim(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pulls[uri]; ok {
		return false
	}
	c.pulls[uri] = nil
	return true
}

func (c *Caller) release(uri string) {
	c.mu.Lock()
	cancel := c.pulls[uri]
	delete(c.pulls, uri)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// dial runs the blocking handshake under ctx and the dial timeout. A
// connection that completes after the caller gave up is closed.
func (c *Caller) dial(ctx context.Context, t Target) (*srtgo.Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latency
	cfg.StreamID = t.StreamID

	ctx, cancel := context.WithTimeoutCause(ctx, c.dialTimeout, errDialTimeout)
	defer cancel()

	type result struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := srtgo.Dial(t.Address, cfg)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("srt: dialing %s: %w", t.Address, r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("srt: dialing %s: %w", t.Address, context.Cause(ctx))
	}
}

func (c *Caller) pump(ctx context.Context, uri string, conn *srtgo.Conn, src *ingest.Source, w io.Writer) {
	defer func() {
		src.Close()
		c.release(uri)
		st := src.Stats()
		c.log.Info("pull ended", "uri", uri,
			"bytes", st.Bytes, "reads", st.Reads, "uptime_ms", st.UptimeMs)
	}()

	buf := make([]byte, readSize)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.log.Debug("read error", "uri", uri, "error", err)
			}
			return
		}
		src.Received(n)
		if _, err := w.Write(buf[:n]); err != nil {
			return
		}
	}
}

// Stop ends the pull for uri.
func (c *Caller) Stop(uri string) error {
	c.mu.Lock()
	cancel, ok := c.pulls[uri]
	c.mu.Unlock()
	if !ok || cancel == nil {
		return fmt.Errorf("%w: %s", ErrNoPull, uri)
	}
	cancel()
	return nil
}

// ActivePulls returns the URIs of every pull, dialing or running, sorted.
func (c *Caller) ActivePulls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.pulls))
}
