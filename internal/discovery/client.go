package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/streamrelay/streamrelay/internal/model"
	"github.com/streamrelay/streamrelay/internal/wire"
)

// PollInterval bounds every blocking receive, so shutdown stays responsive.
const PollInterval = 100 * time.Millisecond

// KeepaliveInterval is the cadence at which KEEPALIVE is re-sent to the
// currently active proxy, to hold its registration open on the proxy side.
// The Client does not schedule keepalives itself: it sends one whenever
// SendKeepAlive is called, and the model drives that on its own
// model.KeepAliveInterval timer.
const KeepaliveInterval = 3500 * time.Millisecond

// Client owns the UDP socket used to discover proxies and talk to whichever
// one is currently active. Events are pushed onto Events for the reducer to
// consume.
type Client struct {
	conn   *net.UDPConn
	logger *log.Logger
	Events chan<- model.Event

	broadcastAddr *net.UDPAddr
}

// Config configures a discovery Client.
type Config struct {
	ListenPort    int
	BroadcastAddr string // e.g. "255.255.255.255:9000"
	Logger        *log.Logger
}

// NewClient binds a UDP socket on INADDR_ANY:ListenPort and enables
// broadcast sends.
func NewClient(cfg Config, events chan<- model.Event) (*Client, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: cfg.ListenPort}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: listen: %w", err)
	}

	bAddr, err := net.ResolveUDPAddr("udp4", cfg.BroadcastAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: resolve broadcast addr: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		conn:          conn,
		logger:        logger,
		Events:        events,
		broadcastAddr: bAddr,
	}, nil
}

// Discover sends one DISCOVER datagram to the broadcast address.
func (c *Client) Discover() error {
	dg, err := wire.Encode(wire.Discover, nil)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteToUDP(dg, c.broadcastAddr)
	return err
}

// SendKeepAlive sends one KEEPALIVE datagram to addr.
func (c *Client) SendKeepAlive(addr *net.UDPAddr) error {
	dg, err := wire.Encode(wire.Keepalive, nil)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteToUDP(dg, addr)
	return err
}

// Run drives the receive loop: it reads datagrams (bounded by PollInterval)
// and translates them into model events. It returns when ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(PollInterval))
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if wire.IsTimeout(err) {
				continue
			}
			return fmt.Errorf("discovery: read: %w", err)
		}

		msg, err := wire.Decode(buf[:n])
		if err != nil {
			c.logger.Printf("discovery: dropping malformed datagram from %s: %v", from, err)
			continue
		}

		ts := time.Now()
		id := FoldAddr(from)
		switch msg.Type {
		case wire.Iam:
			c.emit(model.IamReceived{ID: id, Ts: ts, Addr: from, RadioInfo: string(msg.Payload)})
		case wire.Metadata:
			c.emit(model.MetaReceived{ID: id, Ts: ts, Meta: string(msg.Payload)})
		case wire.Audio:
			c.emit(model.AudioReceived{ID: id, Ts: ts, Payload: msg.Payload})
		default:
			c.logger.Printf("discovery: dropping unexpected %s from %s", msg.Type, from)
		}
	}
}

func (c *Client) emit(ev model.Event) {
	select {
	case c.Events <- ev:
	default:
		c.logger.Printf("discovery: event queue full, dropping %T", ev)
	}
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
