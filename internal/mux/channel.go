package mux

import (
	"fmt"
	"io"
	"sync"
)

// chanState mirrors mux.c's CS_* enumeration.
type chanState int

const (
	stateUnused chanState = iota
	stateConnecting
	stateEstablished
	stateRdClosed
	stateWrClosed
	stateClosed
)

// pendingFlags mirrors mux.c's CF_* bits: which control packets are
// owed to the peer for this channel.
type pendingFlags uint8

const (
	flagConnect pendingFlags = 1 << iota
	flagAccept
	flagReset
	flagWindow
	flagData
	flagClose
)

// Channel is one flow-controlled byte stream multiplexed over the
// shared connection. It implements io.ReadWriteCloser.
type Channel struct {
	id  uint8
	mux *Mux

	mu    sync.Mutex
	cond  *sync.Cond
	state chanState

	// sendBuf holds bytes written by the application but not yet
	// placed on the wire, standing in for CHAN_SBSIZE's ring buffer.
	sendBuf []byte
	// recvBuf holds bytes received but not yet read by the
	// application, standing in for CHAN_RBSIZE's ring buffer.
	recvBuf []byte

	remoteWindow uint32 // bytes the peer has told us we may send
	localWindow  uint32 // bytes of recvBuf capacity we have advertised

	pending pendingFlags
	err     error
}

func newChannel(id uint8, m *Mux) *Channel {
	c := &Channel{
		id:          id,
		mux:         m,
		state:       stateUnused,
		localWindow: RecvBufSize,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Write appends p to the send buffer, blocking while the buffer is
// full, and marks the channel as having data to send.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for len(p) > 0 {
		for len(c.sendBuf) >= SendBufSize && c.err == nil && c.state < stateWrClosed {
			c.cond.Wait()
		}
		if c.err != nil {
			return total, c.err
		}
		if c.state >= stateWrClosed {
			return total, fmt.Errorf("mux: channel %d write side closed", c.id)
		}
		room := SendBufSize - len(c.sendBuf)
		n := len(p)
		if n > room {
			n = room
		}
		c.sendBuf = append(c.sendBuf, p[:n]...)
		p = p[n:]
		total += n
		c.pending |= flagData
		c.mux.notifyWriter()
	}
	return total, nil
}

// Read drains available received bytes into p, blocking until at
// least one byte is available, the channel is closed, or an error is
// recorded.
func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.recvBuf) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		if c.state == stateRdClosed || c.state == stateClosed {
			return 0, io.EOF
		}
		c.cond.Wait()
	}
	n := copy(p, c.recvBuf)
	c.recvBuf = c.recvBuf[n:]
	c.localWindow += uint32(n)
	c.pending |= flagWindow
	c.mux.notifyWriter()
	return n, nil
}

// Close requests an orderly shutdown of the channel: a CLOSE packet
// is queued once all buffered outbound data has drained.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateWrClosed
	c.pending |= flagClose
	c.mu.Unlock()
	c.cond.Broadcast()
	c.mux.notifyWriter()
	return nil
}

// deliver is called by the mux reader loop with bytes received for
// this channel.
func (c *Channel) deliver(data []byte) {
	c.mu.Lock()
	c.recvBuf = append(c.recvBuf, data...)
	c.mu.Unlock()
	c.cond.Broadcast()
}

// growWindow is called by the reader loop on an incoming WINDOW packet.
func (c *Channel) growWindow(n uint32) {
	c.mu.Lock()
	c.remoteWindow += n
	c.mu.Unlock()
	c.cond.Broadcast()
	c.mux.notifyWriter()
}

// markEstablished transitions a channel out of the handshake once its
// CONNECT/ACCEPT has been exchanged.
func (c *Channel) markEstablished(remoteWindow uint32) {
	c.mu.Lock()
	c.state = stateEstablished
	c.remoteWindow = remoteWindow
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Channel) markRdClosed() {
	c.mu.Lock()
	if c.state == stateWrClosed {
		c.state = stateClosed
	} else if c.state != stateClosed {
		c.state = stateRdClosed
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// nextOutbound returns, under the mux's writer lock, the next packet
// this channel owes the peer for the flag f, or ok=false if nothing is
// currently pending for that flag.
func (c *Channel) nextOutbound(f pendingFlags) (packet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending&f == 0 {
		return packet{}, false
	}
	switch f {
	case flagConnect:
		c.pending &^= flagConnect
		return packet{typ: typeConnect, id: c.id, mss: MaxSegSize, window: c.localWindow}, true
	case flagAccept:
		c.pending &^= flagAccept
		return packet{typ: typeAccept, id: c.id, mss: MaxSegSize, window: c.localWindow}, true
	case flagReset:
		c.pending &^= flagReset
		return packet{typ: typeReset, id: c.id}, true
	case flagWindow:
		c.pending &^= flagWindow
		w := c.localWindow
		return packet{typ: typeWindow, id: c.id, window: w}, true
	case flagData:
		n := len(c.sendBuf)
		if uint32(n) > c.remoteWindow {
			n = int(c.remoteWindow)
		}
		if n > MaxSegSize {
			n = MaxSegSize
		}
		if n == 0 {
			// Exhausted window, not exhausted data: leave flagData
			// armed so a later growWindow's notifyWriter finds
			// something to send instead of going back to sleep.
			return packet{}, false
		}
		payload := make([]byte, n)
		copy(payload, c.sendBuf[:n])
		c.sendBuf = c.sendBuf[n:]
		c.remoteWindow -= uint32(n)
		if len(c.sendBuf) == 0 {
			c.pending &^= flagData
		}
		// A Write() blocked on sendBuf being full needs to hear
		// about the room this just freed up.
		c.cond.Broadcast()
		return packet{typ: typeData, id: c.id, payload: payload}, true
	case flagClose:
		if len(c.sendBuf) > 0 {
			return packet{}, false
		}
		c.pending &^= flagClose
		return packet{typ: typeClose, id: c.id}, true
	}
	return packet{}, false
}

func (c *Channel) hasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != 0
}
