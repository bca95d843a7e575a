package fattr

import (
	"fmt"
	"strconv"
	"strings"
)

// field order is fixed: it is the wire format, and both ends must walk
// the same sequence. Each piece is encoded as "len#value", where len is
// the decimal length of value and value itself is rendered in the
// field's own radix (hex for mask/rdev/flags/dev, octal for mode,
// decimal elsewhere, and literal text for owner/group/link).
var fieldOrder = []Mask{
	Type, ModTime, Size, LinkTarget, RDev, Owner, Group, Mode, Flags,
	LinkCount, Dev, Inode,
}

func writePiece(sb *strings.Builder, value string) {
	fmt.Fprintf(sb, "%d#%s", len(value), value)
}

// Encode renders a in the fixed len#value wire format, leading with the
// mask itself so a decoder knows which fields follow.
func (a *Attr) Encode() string {
	var sb strings.Builder
	writePiece(&sb, strconv.FormatUint(uint64(a.Mask), 16))

	for _, f := range fieldOrder {
		if a.Mask&f == 0 {
			continue
		}
		switch f {
		case Type:
			writePiece(&sb, strconv.Itoa(int(a.FileType)))
		case ModTime:
			writePiece(&sb, strconv.FormatInt(a.ModTime, 10))
		case Size:
			writePiece(&sb, strconv.FormatInt(a.Size, 10))
		case LinkTarget:
			writePiece(&sb, a.Link)
		case RDev:
			writePiece(&sb, strconv.FormatUint(a.RDev, 16))
		case Owner:
			writePiece(&sb, a.Owner)
		case Group:
			writePiece(&sb, a.Group)
		case Mode:
			writePiece(&sb, strconv.FormatUint(uint64(a.Mode), 8))
		case Flags:
			writePiece(&sb, strconv.FormatUint(uint64(a.Flags), 16))
		case LinkCount:
			writePiece(&sb, strconv.FormatUint(a.Links, 10))
		case Dev:
			writePiece(&sb, strconv.FormatUint(a.DevNo, 16))
		case Inode:
			writePiece(&sb, strconv.FormatUint(a.InodeNo, 10))
		}
	}
	return sb.String()
}
