package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/ipv4"
)

// FIFOPageSize is the unit of the fifo_size value produced by BuildUDPURI
// for each buffer page requested.
const FIFOPageSize = 4096

// tsPacketSize is the unit of fifo_size in udp URIs.
const tsPacketSize = 188

const maxDatagram = 65536

// UDPConfig is a parsed udp:// source URI.
type UDPConfig struct {
	// Host is the group or unicast address to receive on. Empty listens on
	// every address.
	Host string
	Port int
	// LocalAddr selects the interface used for the multicast join.
	LocalAddr net.IP
	// FIFOSize is the receive buffer in 188-byte packets. Zero keeps the
	// system default.
	FIFOSize int
}

// Multicast reports whether Host is a multicast group.
func (c UDPConfig) Multicast() bool {
	ip := net.ParseIP(c.Host)
	return ip != nil && ip.IsMulticast()
}

// ParseUDPURI parses udp://[@]host:port?fifo_size=N&localaddr=IP.
func ParseUDPURI(uri string) (UDPConfig, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return UDPConfig{}, fmt.Errorf("ingest: parsing %q: %w", uri, err)
	}
	if u.Scheme != "udp" {
		return UDPConfig{}, fmt.Errorf("ingest: %q is not a udp URI", uri)
	}
	host := strings.TrimPrefix(u.Host, "@")
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return UDPConfig{}, fmt.Errorf("ingest: %q: %w", uri, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return UDPConfig{}, fmt.Errorf("ingest: %q: invalid port %q", uri, p)
	}
	cfg := UDPConfig{Host: h, Port: port}

	q := u.Query()
	if v := q.Get("fifo_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return UDPConfig{}, fmt.Errorf("ingest: %q: invalid fifo_size %q", uri, v)
		}
		cfg.FIFOSize = n
	}
	if v := q.Get("localaddr"); v != "" {
		ip := net.ParseIP(v)
		if ip == nil {
			return UDPConfig{}, fmt.Errorf("ingest: %q: invalid localaddr %q", uri, v)
		}
		cfg.LocalAddr = ip
	}
	return cfg, nil
}

// BuildUDPURI renders the URI for a UDP source. fifoPages is multiplied by
// FIFOPageSize. Without a local address the host is prefixed with '@' so
// the socket binds to the group itself.
func BuildUDPURI(addr string, port int, localAddr string, fifoPages int) string {
	addr = strings.TrimSpace(addr)
	localAddr = strings.TrimSpace(localAddr)
	hostport := net.JoinHostPort(addr, strconv.Itoa(port))
	uri := fmt.Sprintf("udp://%s?fifo_size=%d", hostport, fifoPages*FIFOPageSize)
	if localAddr != "" {
		return uri + "&localaddr=" + localAddr
	}
	return strings.Replace(uri, "//", "//@", 1)
}

// interfaceFor returns the interface owning ip, or nil for the default.
func interfaceFor(ip net.IP) (*net.Interface, error) {
	if ip == nil {
		return nil, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && n.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface with address %s", ip)
}

// ListenUDP opens the udp:// source described by uri, registers it under
// the URI and starts receiving in a goroutine until ctx ends or the
// source is closed.
func ListenUDP(ctx context.Context, reg *Registry, uri string, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "udp-ingest")

	cfg, err := ParseUDPURI(uri)
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	bind := net.JoinHostPort("", strconv.Itoa(cfg.Port))
	if !cfg.Multicast() {
		bind = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	pc, err := lc.ListenPacket(ctx, "udp4", bind)
	if err != nil {
		return nil, fmt.Errorf("ingest: listen %s: %w", bind, err)
	}
	conn := pc.(*net.UDPConn)

	if cfg.FIFOSize > 0 {
		if err := conn.SetReadBuffer(cfg.FIFOSize * tsPacketSize); err != nil {
			log.Warn("set read buffer", "bytes", cfg.FIFOSize*tsPacketSize, "error", err)
		}
	}

	if cfg.Multicast() {
		ifi, err := interfaceFor(cfg.LocalAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ingest: %w", err)
		}
		p := ipv4.NewPacketConn(conn)
		group := &net.UDPAddr{IP: net.ParseIP(cfg.Host)}
		if err := p.JoinGroup(ifi, group); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ingest: join %s: %w", cfg.Host, err)
		}
		log.Info("joined multicast group", "group", cfg.Host, "port", cfg.Port, "localaddr", cfg.LocalAddr)
	} else {
		log.Info("listening", "addr", bind)
	}

	src, w := reg.Register(uri, uri)
	go func() {
		select {
		case <-ctx.Done():
		case <-src.Done():
		}
		conn.Close()
	}()
	go func() {
		defer func() {
			src.Close()
			st := src.Stats()
			log.Info("udp source ended", "uri", uri,
				"bytes", st.Bytes, "reads", st.Reads, "peer", st.Peer,
				"uptime_ms", st.UptimeMs)
		}()
		buf := make([]byte, maxDatagram)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					log.Debug("read error", "uri", uri, "error", err)
				}
				return
			}
			if src.reads.Load() == 0 {
				src.SetPeer(from.String())
			}
			src.Received(n)
			if _, err := w.Write(buf[:n]); err != nil {
				log.Debug("pipe write error", "uri", uri, "error", err)
				return
			}
		}
	}()
	return src, nil
}
