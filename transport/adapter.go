// Package transport abstracts the two physical channels the control and
// input subsystems can ride: a legacy TCP control socket (pre-Gen5) and a
// reliable-UDP ENet peer connection (Gen5+). Callers depend only on the
// Adapter interface; Control Session construction picks the concrete type
// based on the negotiated protocol generation.
package transport

import (
	"errors"
	"time"
)

// ErrClosed is returned by adapter operations after Close has been called.
var ErrClosed = errors.New("transport: adapter closed")

// EventType enumerates the outcomes of a Service poll.
type EventType int

const (
	EventNone EventType = iota
	EventReceive
	EventDisconnect
)

// Event is a single inbound occurrence surfaced by Service.
type Event struct {
	Type      EventType
	ChannelID uint8
	Data      []byte
}

// Adapter is the common send/receive surface for both wire transports used
// by the control channel. Each implementation guards its own state with an
// internal mutex, so methods may be called from several goroutines. The
// Control Session additionally serializes its sends under its send mutex;
// its receive worker calls Service without that mutex.
type Adapter interface {
	// Service polls for at most one event, blocking up to timeout.
	// Returning EventNone with a nil error means the timeout elapsed with
	// nothing to report.
	Service(timeout time.Duration) (Event, error)

	// SendOnChannel transmits data on the given logical channel (ENet
	// channel ID, ignored by the TCP adapter) with the given flags.
	SendOnChannel(channelID uint8, flags uint32, data []byte) error

	// RequiresFraming reports whether the adapter needs the caller to add
	// its own length-prefix framing (true for TCP) or handles message
	// boundaries itself (false for ENet, which is message-oriented).
	RequiresFraming() bool

	// DisconnectPending reports whether a disconnect has been observed and
	// is being held back to let in-flight receives drain first.
	DisconnectPending() bool

	// Disconnect requests a graceful peer disconnect.
	Disconnect()

	// Close tears down the underlying socket or peer immediately.
	Close() error
}

// RTTProvider is implemented by adapters that can report a live
// round-trip-time estimate. Only the ENet peer adapter supports this; the
// legacy TCP adapter does not implement it.
type RTTProvider interface {
	RoundTripTime() (estimateMs, varianceMs uint32)
}
