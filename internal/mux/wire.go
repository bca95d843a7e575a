// Package mux implements the single-socket channel multiplexer the
// CVSup wire protocol runs over (spec §4.4): two logical channels
// share one TCP connection, each with its own flow-controlled byte
// stream, multiplexed through fixed-format packets whose sender picks
// among pending packet kinds by a fixed priority order.
//
// It is grounded on original_source/mux.c in full: the packet header
// layout, channel state machine, CHAN_SBSIZE/RBSIZE/MAXSEGSIZE
// constants, and the CONNECT > ACCEPT > RESET > WINDOW > DATA > CLOSE
// sender priority. The source's condition-variable-guarded ring
// buffers become bounded byte slices guarded by a mutex and a
// sync.Cond here, and its
// explicit thread-cancellation teardown becomes context.Context
// cancellation (spec §9 REDESIGN FLAG), both documented in full in
// channel.go and mux.go.
package mux

import (
	"encoding/binary"
	"fmt"
	"io"
)

// packetType is the mux_header.type wire tag.
type packetType uint8

const (
	typeStartupReq packetType = iota
	typeStartupRep
	typeConnect
	typeAccept
	typeReset
	typeData
	typeWindow
	typeClose
)

const (
	startupHdrSize = 3
	connectHdrSize = 8
	acceptHdrSize  = 8
	resetHdrSize   = 2
	dataHdrSize    = 4
	windowHdrSize  = 6
	closeHdrSize   = 2
)

// ProtoVersion is the mux handshake version csup speaks.
const ProtoVersion = 0

// MaxChannels is MUX_MAXCHAN: one channel carries the text control
// stream, the other carries checked-out file data.
const MaxChannels = 2

const (
	// SendBufSize is CHAN_SBSIZE.
	SendBufSize = 16 * 1024
	// RecvBufSize is CHAN_RBSIZE.
	RecvBufSize = 16 * 1024
	// MaxSegSize is CHAN_MAXSEGSIZE: the largest payload a single DATA
	// packet carries.
	MaxSegSize = 1024
)

type packet struct {
	typ     packetType
	id      uint8
	mss     uint16
	window  uint32
	dataLen uint16
	payload []byte
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// writePacket serializes p onto w in mux_header wire format, big-endian
// throughout as the source's network-order packing does.
func writePacket(w io.Writer, p packet) error {
	if _, err := w.Write([]byte{byte(p.typ)}); err != nil {
		return err
	}
	switch p.typ {
	case typeStartupReq, typeStartupRep:
		return writeUint16(w, p.mss) // reused as version
	case typeConnect, typeAccept:
		if _, err := w.Write([]byte{p.id}); err != nil {
			return err
		}
		if err := writeUint16(w, p.mss); err != nil {
			return err
		}
		return writeUint32(w, p.window)
	case typeReset, typeClose:
		_, err := w.Write([]byte{p.id})
		return err
	case typeData:
		if _, err := w.Write([]byte{p.id}); err != nil {
			return err
		}
		if err := writeUint16(w, uint16(len(p.payload))); err != nil {
			return err
		}
		_, err := w.Write(p.payload)
		return err
	case typeWindow:
		if _, err := w.Write([]byte{p.id}); err != nil {
			return err
		}
		return writeUint32(w, p.window)
	default:
		return fmt.Errorf("mux: unknown packet type %d", p.typ)
	}
}

// readPacket reads and parses one packet from r.
func readPacket(r io.Reader) (packet, error) {
	var tb [1]byte
	if _, err := io.ReadFull(r, tb[:]); err != nil {
		return packet{}, err
	}
	p := packet{typ: packetType(tb[0])}

	switch p.typ {
	case typeStartupReq, typeStartupRep:
		v, err := readUint16(r)
		if err != nil {
			return packet{}, err
		}
		p.mss = v
	case typeConnect, typeAccept:
		var idb [1]byte
		if _, err := io.ReadFull(r, idb[:]); err != nil {
			return packet{}, err
		}
		p.id = idb[0]
		mss, err := readUint16(r)
		if err != nil {
			return packet{}, err
		}
		p.mss = mss
		window, err := readUint32(r)
		if err != nil {
			return packet{}, err
		}
		p.window = window
	case typeReset, typeClose:
		var idb [1]byte
		if _, err := io.ReadFull(r, idb[:]); err != nil {
			return packet{}, err
		}
		p.id = idb[0]
	case typeData:
		var idb [1]byte
		if _, err := io.ReadFull(r, idb[:]); err != nil {
			return packet{}, err
		}
		p.id = idb[0]
		n, err := readUint16(r)
		if err != nil {
			return packet{}, err
		}
		p.dataLen = n
		p.payload = make([]byte, n)
		if _, err := io.ReadFull(r, p.payload); err != nil {
			return packet{}, err
		}
	case typeWindow:
		var idb [1]byte
		if _, err := io.ReadFull(r, idb[:]); err != nil {
			return packet{}, err
		}
		p.id = idb[0]
		window, err := readUint32(r)
		if err != nil {
			return packet{}, err
		}
		p.window = window
	default:
		return packet{}, fmt.Errorf("mux: unknown packet type %d on wire", p.typ)
	}
	return p, nil
}
