package mux

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
)

// Mux multiplexes MaxChannels logical byte streams over a single
// net.Conn, grounded on mux.c's struct mux and mux_loop.
type Mux struct {
	conn net.Conn

	chans [MaxChannels]*Channel

	writeSignal chan struct{}

	mu      sync.Mutex
	closed  bool
	lastErr error

	wg sync.WaitGroup
}

// New wraps conn for multiplexing. Call Run to start the reader and
// writer loops.
func New(conn net.Conn) *Mux {
	m := &Mux{
		conn:        conn,
		writeSignal: make(chan struct{}, 1),
	}
	for i := range m.chans {
		m.chans[i] = newChannel(uint8(i), m)
	}
	return m
}

// Channel returns the channel with the given id (0 or 1).
func (m *Mux) Channel(id int) *Channel {
	return m.chans[id]
}

// Run performs the startup handshake and then services the connection
// until ctx is cancelled or an unrecoverable I/O error occurs. Replaces
// the source's pthread-based reader/writer threads with two goroutines
// torn down by context cancellation rather than explicit thread-kill
// (spec §9 REDESIGN FLAG).
func (m *Mux) Run(ctx context.Context) error {
	if err := m.handshake(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// readLoop blocks in a plain net.Conn.Read with no context
	// awareness; closing the connection is what actually unblocks it
	// on cancellation, mirroring the source's teardown-by-socket-
	// shutdown rather than a cooperative check inside the read.
	go func() {
		<-ctx.Done()
		m.conn.Close()
	}()

	errCh := make(chan error, 2)
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		errCh <- m.readLoop(ctx)
	}()
	go func() {
		defer m.wg.Done()
		errCh <- m.writeLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		// Wake any Read/Write blocked on a channel.
		m.fail(ctx.Err())
	case err := <-errCh:
		if err != nil {
			m.fail(err)
		}
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Mux) handshake() error {
	if err := writePacket(m.conn, packet{typ: typeStartupReq, mss: ProtoVersion}); err != nil {
		return fmt.Errorf("mux: startup request: %w", err)
	}
	p, err := readPacket(m.conn)
	if err != nil {
		return fmt.Errorf("mux: startup reply: %w", err)
	}
	if p.typ != typeStartupRep {
		return fmt.Errorf("mux: expected startup reply, got packet type %d", p.typ)
	}
	if p.mss != ProtoVersion {
		return fmt.Errorf("mux: unsupported protocol version %d", p.mss)
	}
	return nil
}

// OpenChannel drives the CONNECT/ACCEPT handshake for channel id and
// returns it once established.
func (m *Mux) OpenChannel(id int) (*Channel, error) {
	c := m.chans[id]
	c.mu.Lock()
	c.state = stateConnecting
	c.pending |= flagConnect
	c.mu.Unlock()
	m.notifyWriter()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state == stateConnecting && c.err == nil {
		c.cond.Wait()
	}
	if c.err != nil {
		return nil, c.err
	}
	return c, nil
}

func (m *Mux) notifyWriter() {
	select {
	case m.writeSignal <- struct{}{}:
	default:
	}
}

func (m *Mux) fail(err error) {
	m.mu.Lock()
	if m.lastErr == nil {
		m.lastErr = err
	}
	m.mu.Unlock()
	for _, c := range m.chans {
		c.fail(err)
	}
}

// readLoop demultiplexes incoming packets to their channel.
func (m *Mux) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		p, err := readPacket(m.conn)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("mux: read: %w", err)
		}
		if int(p.id) >= MaxChannels {
			return fmt.Errorf("mux: packet for out-of-range channel %d", p.id)
		}
		c := m.chans[p.id]
		switch p.typ {
		case typeConnect:
			c.mu.Lock()
			c.remoteWindow = p.window
			c.pending |= flagAccept
			c.mu.Unlock()
			m.notifyWriter()
		case typeAccept:
			c.markEstablished(p.window)
		case typeReset:
			c.fail(fmt.Errorf("mux: channel %d reset by peer", p.id))
		case typeData:
			c.deliver(p.payload)
		case typeWindow:
			c.growWindow(p.window)
		case typeClose:
			c.markRdClosed()
		default:
			return fmt.Errorf("mux: unexpected packet type %d", p.typ)
		}
	}
}

// writeLoop serializes outbound packets, picking among channels'
// pending work in CONNECT > ACCEPT > RESET > WINDOW > DATA > CLOSE
// priority order each time it has something to send.
func (m *Mux) writeLoop(ctx context.Context) error {
	priority := []pendingFlags{flagConnect, flagAccept, flagReset, flagWindow, flagData, flagClose}
	for {
		p, ok := m.nextPacket(priority)
		if ok {
			if err := writePacket(m.conn, p); err != nil {
				return fmt.Errorf("mux: write: %w", err)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-m.writeSignal:
		}
	}
}

func (m *Mux) nextPacket(priority []pendingFlags) (packet, bool) {
	for _, f := range priority {
		for _, c := range m.chans {
			if p, ok := c.nextOutbound(f); ok {
				return p, true
			}
		}
	}
	return packet{}, false
}
