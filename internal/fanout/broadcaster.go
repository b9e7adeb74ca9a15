package fanout

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/streamrelay/streamrelay/internal/wire"
)

// Broadcaster is the interface the proxy's main loop drives with each ICY
// part read from upstream: send audio, and optionally metadata, to every
// currently interested party.
type Broadcaster interface {
	Broadcast(audio []byte, meta string, metaPresent bool) error
	Close() error
}

// PollInterval bounds every blocking receive on the control socket, so the
// eviction sweep and shutdown check run at a steady cadence.
const PollInterval = 100 * time.Millisecond

// UDPBroadcaster is the real fan-out implementation: a UDP socket shared by
// the control plane (DISCOVER/KEEPALIVE/IAM) and the data plane
// (AUDIO/METADATA), backed by a Registry of currently-subscribed listeners.
type UDPBroadcaster struct {
	conn      *net.UDPConn
	registry  *Registry
	radioInfo string
	logger    *log.Logger
	geo       *GeoResolver

	multicastGroup net.IP
}

// Config configures a UDPBroadcaster.
type Config struct {
	ListenAddr     string // e.g. ":9000"
	Timeout        time.Duration
	RadioInfo      string
	MulticastGroup net.IP // optional; nil disables multicast join
	TTL            int
	Logger         *log.Logger
	Geo            *GeoResolver // optional; nil disables location logging
}

// NewUDPBroadcaster binds the control/data socket and, if MulticastGroup is
// set, joins that multicast group on the listening interface.
func NewUDPBroadcaster(cfg Config) (*UDPBroadcaster, error) {
	addr, err := net.ResolveUDPAddr("udp4", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("fanout: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("fanout: listen: %w", err)
	}

	b := &UDPBroadcaster{
		conn:      conn,
		registry:  NewRegistry(cfg.Timeout),
		radioInfo: cfg.RadioInfo,
		logger:    cfg.Logger,
		geo:       cfg.Geo,
	}
	if b.logger == nil {
		b.logger = log.Default()
	}

	if cfg.MulticastGroup != nil {
		pc := ipv4.NewPacketConn(conn)
		iface, ifErr := defaultMulticastInterface()
		if ifErr != nil {
			conn.Close()
			return nil, fmt.Errorf("fanout: find multicast interface: %w", ifErr)
		}
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: cfg.MulticastGroup}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("fanout: join multicast group: %w", err)
		}
		if cfg.TTL > 0 {
			_ = pc.SetMulticastTTL(cfg.TTL)
		}
		b.multicastGroup = cfg.MulticastGroup
	}

	return b, nil
}

func defaultMulticastInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		return &iface, nil
	}
	return nil, fmt.Errorf("fanout: no multicast-capable interface found")
}

// Run drives the control plane: it blocks on incoming datagrams (bounded by
// PollInterval so shutdown and eviction sweeps stay responsive) and responds
// to DISCOVER and KEEPALIVE. It returns when ctx is cancelled.
func (b *UDPBroadcaster) Run(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		b.conn.SetReadDeadline(time.Now().Add(PollInterval))
		n, from, err := b.conn.ReadFromUDP(buf)
		now := time.Now()

		if evicted := b.registry.Evict(now); len(evicted) > 0 {
			for _, addr := range evicted {
				b.logger.Printf("fanout: evicted %s (inactive)", addr)
			}
		}

		if err != nil {
			if wire.IsTimeout(err) {
				continue
			}
			return fmt.Errorf("fanout: read: %w", err)
		}

		msg, decodeErr := wire.Decode(buf[:n])
		if decodeErr != nil {
			b.logger.Printf("fanout: dropping malformed datagram from %s: %v", from, decodeErr)
			continue
		}

		switch msg.Type {
		case wire.Discover:
			b.handleDiscover(from, now)
		case wire.Keepalive:
			b.registry.Touch(from, now)
		default:
			b.logger.Printf("fanout: dropping unexpected %s from %s", msg.Type, from)
		}
	}
}

func (b *UDPBroadcaster) handleDiscover(from *net.UDPAddr, now time.Time) {
	isNew := b.registry.Touch(from, now)
	if isNew && b.geo != nil {
		if loc := b.geo.Describe(from); loc != "" {
			b.logger.Printf("fanout: new listener %s (%s)", from, loc)
		}
	}

	iam, err := wire.Encode(wire.Iam, []byte(b.radioInfo))
	if err != nil {
		b.logger.Printf("fanout: encode IAM: %v", err)
		return
	}
	if _, err := b.conn.WriteToUDP(iam, from); err != nil {
		b.logger.Printf("fanout: send IAM to %s: %v", from, err)
		return
	}

	meta, _ := b.registry.LastMeta()
	for _, frag := range wire.Fragment([]byte(meta)) {
		dg, err := wire.Encode(wire.Metadata, frag)
		if err != nil {
			continue
		}
		b.conn.WriteToUDP(dg, from)
	}
}

// Broadcast fragments audio (and, when metaPresent, meta) and sends each
// fragment as its own datagram to every currently-registered client.
func (b *UDPBroadcaster) Broadcast(audio []byte, meta string, metaPresent bool) error {
	targets := b.registry.Snapshot()

	for _, frag := range wire.Fragment(audio) {
		dg, err := wire.Encode(wire.Audio, frag)
		if err != nil {
			return fmt.Errorf("fanout: encode audio: %w", err)
		}
		for _, addr := range targets {
			b.conn.WriteToUDP(dg, addr)
		}
	}

	if metaPresent {
		b.registry.SetLastMeta(meta)
		for _, frag := range wire.Fragment([]byte(meta)) {
			dg, err := wire.Encode(wire.Metadata, frag)
			if err != nil {
				return fmt.Errorf("fanout: encode metadata: %w", err)
			}
			for _, addr := range targets {
				b.conn.WriteToUDP(dg, addr)
			}
		}
	}

	return nil
}

// Close releases the underlying socket.
func (b *UDPBroadcaster) Close() error {
	return b.conn.Close()
}

// StdoutBroadcaster is a degenerate Broadcaster used when the proxy is run
// without a listen port: audio goes to stdout, metadata to stderr, mirroring
// a simple pipe-to-player setup.
type StdoutBroadcaster struct {
	writeAudio func([]byte) (int, error)
	writeMeta  func(string)
}

// NewStdoutBroadcaster builds a StdoutBroadcaster writing audio and metadata
// through the given functions (typically os.Stdout.Write and a line logger).
func NewStdoutBroadcaster(writeAudio func([]byte) (int, error), writeMeta func(string)) *StdoutBroadcaster {
	return &StdoutBroadcaster{writeAudio: writeAudio, writeMeta: writeMeta}
}

func (s *StdoutBroadcaster) Broadcast(audio []byte, meta string, metaPresent bool) error {
	if _, err := s.writeAudio(audio); err != nil {
		return fmt.Errorf("fanout: write audio to stdout: %w", err)
	}
	if metaPresent && meta != "" {
		s.writeMeta(meta)
	}
	return nil
}

func (s *StdoutBroadcaster) Close() error { return nil }
