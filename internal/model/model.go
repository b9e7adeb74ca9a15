package model

import (
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strings"
	"time"
)

// TickInterval bounds how often the reducer wakes up with no event pending,
// to run its eviction sweep, keepalive cadence, and redraw.
const TickInterval = 100 * time.Millisecond

// KeepAliveInterval is how often the active proxy is sent a KEEPALIVE.
const KeepAliveInterval = 3500 * time.Millisecond

// DefaultProxyTimeout is how long a proxy can go without sending an IAM,
// METADATA or AUDIO datagram before the model drops it from the table, used
// when Config.ProxyTimeout is left zero.
const DefaultProxyTimeout = 5 * time.Second

// Discoverer issues a new DISCOVER round. Satisfied by *discovery.Client.
type Discoverer interface {
	Discover() error
}

// KeepAliver sends a KEEPALIVE to a specific proxy address. Satisfied by
// *discovery.Client.
type KeepAliver interface {
	SendKeepAlive(addr *net.UDPAddr) error
}

// Renderer draws a frame to the active TELNET session. Satisfied by
// *telnet.Server.
type Renderer interface {
	Render(text string, row int)
}

type proxyEntry struct {
	id        uint64
	addr      *net.UDPAddr
	radioInfo string
	meta      string
	lastSeen  time.Time
}

// Model is the single-goroutine reducer owning all client-side mutable
// state: the menu cursor, the proxy table, and which proxy (if any) is
// active.
type Model struct {
	events chan Event

	discoverer Discoverer
	keepAliver KeepAliver
	renderer   Renderer
	audioSink  io.Writer
	logger     *log.Logger
	shutdown   func()

	proxyTimeout time.Duration

	proxies  map[uint64]*proxyEntry
	order    []uint64
	cursor   int
	activeID uint64
	hasActive bool
	dirty    bool

	inputBuf []byte

	lastKeepAlive time.Time
}

// Config wires a Model to its collaborators.
type Config struct {
	Discoverer   Discoverer
	KeepAliver   KeepAliver
	Renderer     Renderer
	AudioSink    io.Writer // where active-proxy audio is written; nil discards it
	Logger       *log.Logger
	Shutdown     func()
	ProxyTimeout time.Duration // 0 uses DefaultProxyTimeout
}

// New creates a Model. Events is the channel producers (discovery.Client,
// telnet.Server) push to; the caller owns its lifetime and should close it
// only after Run has returned.
func New(events chan Event, cfg Config) *Model {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	proxyTimeout := cfg.ProxyTimeout
	if proxyTimeout == 0 {
		proxyTimeout = DefaultProxyTimeout
	}
	return &Model{
		events:       events,
		discoverer:   cfg.Discoverer,
		keepAliver:   cfg.KeepAliver,
		renderer:     cfg.Renderer,
		audioSink:    cfg.AudioSink,
		logger:       logger,
		shutdown:     cfg.Shutdown,
		proxyTimeout: proxyTimeout,
		proxies:      make(map[uint64]*proxyEntry),
		cursor:       1,
		dirty:        true,
	}
}

// Run drains the event queue until stop is closed, dispatching each event
// by type and redrawing whenever state changed. It is meant to run on its
// own goroutine; it owns every field on Model and must never be called
// concurrently with itself.
func (m *Model) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case ev := <-m.events:
			m.dispatch(ev)
		case <-ticker.C:
			m.tick(time.Now())
		}
		if m.dirty {
			m.render()
			m.dirty = false
		}
	}
}

func (m *Model) dispatch(ev Event) {
	switch e := ev.(type) {
	case UserInput:
		m.handleInput(e.Byte)
	case IamReceived:
		m.handleIam(e)
	case MetaReceived:
		m.handleMeta(e)
	case AudioReceived:
		m.handleAudio(e)
	case DiscoveryCrashed:
		m.logger.Printf("model: discovery client crashed: %v", e.Err)
		if m.shutdown != nil {
			m.shutdown()
		}
	case TelnetCrashed:
		m.logger.Printf("model: telnet server crashed: %v", e.Err)
		if m.shutdown != nil {
			m.shutdown()
		}
	}
}

// handleInput implements the rolling-window arrow/enter recognizer. The
// buffer holds the most recent bytes with the newest at index 0.
func (m *Model) handleInput(b byte) {
	m.inputBuf = append([]byte{b}, m.inputBuf...)
	if len(m.inputBuf) > 3 {
		m.inputBuf = m.inputBuf[:3]
	}

	switch {
	case matchesPrefix(m.inputBuf, []byte{65, 91, 27}):
		m.moveCursor(-1)
		m.inputBuf = nil
	case matchesPrefix(m.inputBuf, []byte{66, 91, 27}):
		m.moveCursor(1)
		m.inputBuf = nil
	case len(m.inputBuf) > 0 && m.inputBuf[0] == 13:
		m.activate()
		m.inputBuf = nil
	}
}

func matchesPrefix(buf, pattern []byte) bool {
	if len(buf) < len(pattern) {
		return false
	}
	for i := range pattern {
		if buf[i] != pattern[i] {
			return false
		}
	}
	return true
}

func (m *Model) moveCursor(delta int) {
	max := 2 + len(m.proxies)
	m.cursor += delta
	if m.cursor < 1 {
		m.cursor = 1
	}
	if m.cursor > max {
		m.cursor = max
	}
	m.dirty = true
}

func (m *Model) activate() {
	n := len(m.proxies)
	switch {
	case m.cursor == 1:
		if m.discoverer != nil {
			if err := m.discoverer.Discover(); err != nil {
				m.logger.Printf("model: discover failed: %v", err)
			}
		}
	case m.cursor == 2+n:
		if m.shutdown != nil {
			m.shutdown()
		}
	default:
		idx := m.cursor - 2
		if idx < 0 || idx >= len(m.order) {
			return
		}
		id := m.order[idx]
		if m.hasActive && m.activeID == id {
			m.hasActive = false
		} else {
			m.activeID = id
			m.hasActive = true
		}
	}
	m.dirty = true
}

func (m *Model) handleIam(e IamReceived) {
	entry, ok := m.proxies[e.ID]
	if !ok {
		entry = &proxyEntry{id: e.ID}
		m.proxies[e.ID] = entry
		m.resortOrder()
	}
	entry.addr = e.Addr
	entry.radioInfo = e.RadioInfo
	entry.lastSeen = e.Ts
	m.dirty = true
}

func (m *Model) handleMeta(e MetaReceived) {
	entry, ok := m.proxies[e.ID]
	if !ok {
		return
	}
	entry.meta = e.Meta
	entry.lastSeen = e.Ts
	if m.hasActive && m.activeID == e.ID {
		m.dirty = true
	}
}

// handleAudio refreshes the sending proxy's liveness clock and, if it is the
// currently active proxy, writes the payload to the audio sink.
func (m *Model) handleAudio(e AudioReceived) {
	entry, ok := m.proxies[e.ID]
	if !ok {
		return
	}
	entry.lastSeen = e.Ts

	if m.hasActive && m.activeID == e.ID && m.audioSink != nil {
		if _, err := m.audioSink.Write(e.Payload); err != nil {
			m.logger.Printf("model: audio sink write failed: %v", err)
		}
	}
}

func (m *Model) removeProxy(id uint64) {
	if _, ok := m.proxies[id]; !ok {
		return
	}
	delete(m.proxies, id)
	m.resortOrder()
	if m.hasActive && m.activeID == id {
		m.hasActive = false
	}
	max := 2 + len(m.proxies)
	if m.cursor > max {
		m.cursor = max
	}
	m.dirty = true
}

func (m *Model) resortOrder() {
	order := make([]uint64, 0, len(m.proxies))
	for id := range m.proxies {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	m.order = order
}

func (m *Model) tick(now time.Time) {
	for id, entry := range m.proxies {
		if now.Sub(entry.lastSeen) > m.proxyTimeout {
			m.removeProxy(id)
		}
	}

	if m.hasActive && now.Sub(m.lastKeepAlive) >= KeepAliveInterval {
		if entry, ok := m.proxies[m.activeID]; ok && m.keepAliver != nil {
			if err := m.keepAliver.SendKeepAlive(entry.addr); err != nil {
				m.logger.Printf("model: keepalive to %s failed: %v", entry.addr, err)
			}
		}
		m.lastKeepAlive = now
	}
}

func (m *Model) render() {
	if m.renderer == nil {
		return
	}
	var b strings.Builder
	b.WriteString(menuLine(1, m.cursor, "Szukaj pośrednika"))
	b.WriteString("\r\n")

	for i, id := range m.order {
		entry := m.proxies[id]
		row := 2 + i
		label := fmt.Sprintf("Pośrednik %s", entry.radioInfo)
		if m.hasActive && m.activeID == id {
			label += " *"
		}
		b.WriteString(menuLine(row, m.cursor, label))
		b.WriteString("\r\n")
	}

	quitRow := 2 + len(m.order)
	b.WriteString(menuLine(quitRow, m.cursor, "Koniec"))
	b.WriteString("\r\n")

	if m.hasActive {
		if entry, ok := m.proxies[m.activeID]; ok && entry.meta != "" {
			b.WriteString(entry.meta)
			b.WriteString("\r\n")
		}
	}

	m.renderer.Render(b.String(), m.cursor)
}

// KnownProxy is a snapshot of one entry in the proxy table, used to persist
// the cache file on shutdown without this package depending on the
// discovery package's types.
type KnownProxy struct {
	ID        uint64
	Addr      *net.UDPAddr
	RadioInfo string
}

// Snapshot returns the currently known proxies, ordered by ID. It is safe to
// call only from the same goroutine driving Run, e.g. right after Run
// returns on shutdown.
func (m *Model) Snapshot() []KnownProxy {
	out := make([]KnownProxy, 0, len(m.order))
	for _, id := range m.order {
		e := m.proxies[id]
		out = append(out, KnownProxy{ID: e.id, Addr: e.addr, RadioInfo: e.radioInfo})
	}
	return out
}

func menuLine(row, cursor int, text string) string {
	if row == cursor {
		return "> " + text
	}
	return "  " + text
}
