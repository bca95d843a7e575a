package fattr

import (
	"fmt"
	"strconv"
	"strings"
)

// reader walks a len#value-encoded string one piece at a time.
type reader struct {
	s   string
	pos int
}

func (r *reader) next() (string, error) {
	hashIdx := strings.IndexByte(r.s[r.pos:], '#')
	if hashIdx < 0 {
		return "", fmt.Errorf("fattr: malformed field at offset %d", r.pos)
	}
	lenStr := r.s[r.pos : r.pos+hashIdx]
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return "", fmt.Errorf("fattr: bad field length %q", lenStr)
	}
	start := r.pos + hashIdx + 1
	end := start + n
	if end > len(r.s) {
		return "", fmt.Errorf("fattr: field length %d exceeds input", n)
	}
	r.pos = end
	return r.s[start:end], nil
}

// Decode parses the len#value wire format produced by Encode.
func Decode(s string) (*Attr, error) {
	r := &reader{s: s}
	maskStr, err := r.next()
	if err != nil {
		return nil, err
	}
	mask64, err := strconv.ParseUint(maskStr, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("fattr: bad mask %q: %w", maskStr, err)
	}
	a := &Attr{Mask: Mask(mask64)}

	for _, f := range fieldOrder {
		if a.Mask&f == 0 {
			continue
		}
		val, err := r.next()
		if err != nil {
			return nil, err
		}
		if err := a.decodeField(f, val); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Attr) decodeField(f Mask, val string) error {
	switch f {
	case Type:
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("fattr: bad type %q: %w", val, err)
		}
		a.FileType = FileType(n)
	case ModTime:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("fattr: bad modtime %q: %w", val, err)
		}
		a.ModTime = n
	case Size:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("fattr: bad size %q: %w", val, err)
		}
		a.Size = n
	case LinkTarget:
		a.Link = val
	case RDev:
		n, err := strconv.ParseUint(val, 16, 64)
		if err != nil {
			return fmt.Errorf("fattr: bad rdev %q: %w", val, err)
		}
		a.RDev = n
	case Owner:
		a.Owner = val
	case Group:
		a.Group = val
	case Mode:
		n, err := strconv.ParseUint(val, 8, 32)
		if err != nil {
			return fmt.Errorf("fattr: bad mode %q: %w", val, err)
		}
		a.Mode = uint32(n)
	case Flags:
		n, err := strconv.ParseUint(val, 16, 32)
		if err != nil {
			return fmt.Errorf("fattr: bad flags %q: %w", val, err)
		}
		a.Flags = uint32(n)
	case LinkCount:
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("fattr: bad linkcount %q: %w", val, err)
		}
		a.Links = n
	case Dev:
		n, err := strconv.ParseUint(val, 16, 64)
		if err != nil {
			return fmt.Errorf("fattr: bad dev %q: %w", val, err)
		}
		a.DevNo = n
	case Inode:
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("fattr: bad inode %q: %w", val, err)
		}
		a.InodeNo = n
	}
	return nil
}
