// Package proto implements CVSup's line-oriented wire encoding: the
// escaped-field text format every control message is built from
// (proto_printf/proto_get_ascii), layered over a buffered stream that
// can switch to zlib compression mid-session the way the server
// directs (spec §4.5/§4.9 "COMPRESS" handling).
//
// Grounded on original_source/proto.c (field escaping/unescaping,
// proto_printf's %s/%S/%d/%t directives) and original_source/stream.c
// (buffered line reads, stream_printf/stream_flush).
package proto

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
)

// EscapeField backslash-escapes the characters proto_printf's "%s"
// directive treats specially, so the field round-trips through the
// space-delimited line format unambiguously.
func EscapeField(s string) string {
	if !strings.ContainsAny(s, " \t\n\\") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ':
			b.WriteString(`\_`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeField reverses EscapeField, mirroring proto_get_ascii's
// unescape pass.
func UnescapeField(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case '_':
			b.WriteByte(' ')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

// SplitFields splits a received line into its space-delimited,
// unescaped tokens, mirroring repeated proto_get_ascii calls.
func SplitFields(line string) []string {
	if line == "" {
		return nil
	}
	raw := strings.Split(line, " ")
	out := make([]string, len(raw))
	for i, f := range raw {
		out[i] = UnescapeField(f)
	}
	return out
}

// Stream is a buffered, line-oriented connection that can be promoted
// to zlib compression partway through its life.
type Stream struct {
	rwc   io.ReadWriteCloser
	baseR *bufio.Reader
	r     *bufio.Reader
	w     *bufio.Writer

	zr         io.ReadCloser
	zw         *zlib.Writer
	compressRd bool
}

// New wraps rwc (typically one multiplexed channel) for line I/O.
func New(rwc io.ReadWriteCloser) *Stream {
	r := bufio.NewReader(rwc)
	return &Stream{
		rwc:   rwc,
		baseR: r,
		r:     r,
		w:     bufio.NewWriter(rwc),
	}
}

// StartCompression switches both directions of the stream to zlib,
// flushing any buffered plaintext output first. The write side
// compresses from this call onward; the read side is switched
// lazily, on the next GetLine, since the zlib header on the wire
// isn't necessarily available yet and creating the decompressor
// eagerly would block waiting for it.
func (s *Stream) StartCompression() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.zw = zlib.NewWriter(s.w)
	s.compressRd = true
	return nil
}

func (s *Stream) ensureCompressedReader() error {
	if !s.compressRd || s.zr != nil {
		return nil
	}
	zr, err := zlib.NewReader(s.baseR)
	if err != nil {
		return fmt.Errorf("proto: start compressed read: %w", err)
	}
	s.zr = zr
	s.r = bufio.NewReader(zr)
	return nil
}

// StopCompression ends the current compressed section at a message
// boundary, flushing and closing the write side's zlib container and
// tearing down the read side's decompressor so the stream reverts to
// plain text. A later StartCompression begins a fresh zlib container,
// matching stream_filter_stop/stream_filter_start being called once per
// collection rather than once per connection.
func (s *Stream) StopCompression() error {
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			return fmt.Errorf("proto: stop compressed write: %w", err)
		}
		s.zw = nil
	}
	if s.zr != nil {
		s.zr.Close()
		s.zr = nil
	}
	s.compressRd = false
	s.r = s.baseR
	return nil
}

// GetLine reads one newline-terminated line, with the trailing
// newline stripped, mirroring stream_getln.
func (s *Stream) GetLine() (string, error) {
	if err := s.ensureCompressedReader(); err != nil {
		return "", err
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return line, nil
		}
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (s *Stream) writer() io.Writer {
	if s.zw != nil {
		return s.zw
	}
	return s.w
}

// PutLine writes cmd followed by the given fields, each escaped, space
// separated, newline terminated — proto_printf's common "%c %s %s...\n"
// shape.
func (s *Stream) PutLine(fields ...string) error {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = EscapeField(f)
	}
	_, err := fmt.Fprintf(s.writer(), "%s\n", strings.Join(escaped, " "))
	return err
}

// PutLineVerbatim writes the given escaped fields followed by one
// final field taken verbatim (proto_printf's "%S" directive), used
// when re-emitting an already-encoded tail such as a status record's
// attribute blob.
func (s *Stream) PutLineVerbatim(verbatim string, fields ...string) error {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = EscapeField(f)
	}
	prefix := strings.Join(escaped, " ")
	var err error
	if prefix != "" {
		_, err = fmt.Fprintf(s.writer(), "%s %s\n", prefix, verbatim)
	} else {
		_, err = fmt.Fprintf(s.writer(), "%s\n", verbatim)
	}
	return err
}

// PutInt writes a single integer field as its own line.
func (s *Stream) PutInt(v int) error {
	return s.PutLine(strconv.Itoa(v))
}

// PutTime writes a Unix timestamp field as its own line, proto_printf's
// "%t" directive.
func (s *Stream) PutTime(t time.Time) error {
	return s.PutLine(strconv.FormatInt(t.Unix(), 10))
}

// Flush pushes any buffered output, draining the compressor first if
// one is active.
func (s *Stream) Flush() error {
	if s.zw != nil {
		if err := s.zw.Flush(); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying connection.
func (s *Stream) Close() error {
	if s.zw != nil {
		s.zw.Close()
	}
	if err := s.w.Flush(); err != nil {
		s.rwc.Close()
		return err
	}
	return s.rwc.Close()
}
