// Package model implements the client's event-reducer: a single goroutine
// owns all mutable UI/proxy-table state and processes a queue of typed
// events pushed to it by the discovery client and the TELNET server.
package model

import (
	"net"
	"time"
)

// Event is implemented by every message the reducer can process. The
// unexported method keeps the set closed to this package's types, so a type
// switch in the reducer can be exhaustive.
type Event interface {
	isEvent()
}

// UserInput carries one raw byte read from the active TELNET connection.
type UserInput struct {
	Byte byte
}

func (UserInput) isEvent() {}

// IamReceived is emitted when the discovery client gets an IAM datagram from
// a proxy, new or already known. Addr is carried alongside ID so the model
// can drive keepalives to the proxy it selects as active without the
// discovery client needing to expose its internal address table. Ts is the
// time the discovery client observed the datagram, not dispatch time.
type IamReceived struct {
	ID        uint64
	Ts        time.Time
	Addr      *net.UDPAddr
	RadioInfo string
}

func (IamReceived) isEvent() {}

// MetaReceived is emitted when the discovery client gets a METADATA datagram
// from any proxy, active or not.
type MetaReceived struct {
	ID   uint64
	Ts   time.Time
	Meta string
}

func (MetaReceived) isEvent() {}

// AudioReceived is emitted when the discovery client gets an AUDIO datagram.
// The model writes Payload to its audio sink only when ID is the currently
// active proxy; for any known proxy it still refreshes the liveness clock.
type AudioReceived struct {
	ID      uint64
	Ts      time.Time
	Payload []byte
}

func (AudioReceived) isEvent() {}

// DiscoveryCrashed is emitted once, by the goroutine supervising the
// discovery client, if that client's run loop returns an unrecoverable
// error.
type DiscoveryCrashed struct {
	Err error
}

func (DiscoveryCrashed) isEvent() {}

// TelnetCrashed is emitted once, by the goroutine supervising the TELNET
// server, if that server's accept loop returns an unrecoverable error.
type TelnetCrashed struct {
	Err error
}

func (TelnetCrashed) isEvent() {}
