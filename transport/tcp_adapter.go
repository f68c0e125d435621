package transport

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// TCPAdapter carries the legacy (pre-Gen5) control channel over a plain
// TCP socket using the 4-byte NVCTL_TCP_PACKET_HEADER framing: a
// little-endian type and payload length immediately followed by the
// payload bytes. There is no separate input channel abstraction here --
// generations old enough to use TCP control also use a distinct legacy
// input socket, handled outside this adapter.
type TCPAdapter struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// DialTCP connects the legacy control socket and disables Nagle's
// algorithm, matching enableNoDelay in the reference client.
func DialTCP(addr net.IP, port int) (*TCPAdapter, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(addr.String(), strconv.Itoa(port)), 10*time.Second)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &TCPAdapter{conn: conn}, nil
}

// Service implements Adapter by reading one framed control message,
// blocking up to timeout. Legacy control has no ENet-style unsolicited
// disconnect event; a closed connection surfaces as io.EOF from Read,
// reported here as EventDisconnect.
func (a *TCPAdapter) Service(timeout time.Duration) (Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Event{}, ErrClosed
	}

	_ = a.conn.SetReadDeadline(time.Now().Add(timeout))

	var header [4]byte
	if _, err := io.ReadFull(a.conn, header[:]); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Event{Type: EventNone}, nil
		}
		return Event{Type: EventDisconnect}, nil
	}

	msgType := binary.LittleEndian.Uint16(header[0:2])
	payloadLen := binary.LittleEndian.Uint16(header[2:4])

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(a.conn, payload); err != nil {
			return Event{Type: EventDisconnect}, nil
		}
	}

	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], msgType)
	copy(frame[2:], payload)

	return Event{Type: EventReceive, Data: frame}, nil
}

// SendOnChannel implements Adapter. channelID and flags are ignored; the
// TCP control socket has no channel concept and every write is reliable
// by construction.
func (a *TCPAdapter) SendOnChannel(_ uint8, _ uint32, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	_, err := a.conn.Write(data)
	return err
}

// RequiresFraming implements Adapter. Callers must add the 4-byte
// NVCTL_TCP_PACKET_HEADER before calling SendOnChannel.
func (a *TCPAdapter) RequiresFraming() bool {
	return true
}

// DisconnectPending implements Adapter. TCP has no drain-before-disconnect
// concern, so this is always false.
func (a *TCPAdapter) DisconnectPending() bool {
	return false
}

// Disconnect implements Adapter.
func (a *TCPAdapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		_ = a.conn.Close()
	}
}

// Close implements Adapter.
func (a *TCPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.conn.Close()
}
