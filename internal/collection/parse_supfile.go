package collection

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseSupfile reads a supfile and applies every directive it contains to
// b, in order. Each non-blank, non-comment line names either a collection
// or the "*default*" template, followed by whitespace-separated fields
// that are either bare flags (delete, compress, use-rel-suffix) or
// key=value settings (host, base, date, prefix, release, tag, umask).
//
// config.c itself never implements this tokenizer directly: it is driven
// by a yacc/lex grammar (token.l/parse.y) that was not available to work
// from, so the field layout here is reconstructed from coll_setopt's PT_*
// dispatch and the well-documented CVSup supfile dialect rather than
// transliterated line by line.
func ParseSupfile(r io.Reader, b *Builder) error {
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		name := fields[0]
		if err := applyOptions(b, fields[1:]); err != nil {
			return fmt.Errorf("supfile line %d: %w", lineno, err)
		}

		if name == "*default*" {
			b.SetDefault()
			continue
		}
		b.Add(name)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("supfile: %w", err)
	}
	return nil
}

// applyOptions applies one line's trailing fields to the collection
// currently being built, mirroring coll_setopt's dispatch plus the
// host field that config_sethost handles separately.
func applyOptions(b *Builder, fields []string) error {
	for _, field := range fields {
		key, value, hasValue := strings.Cut(field, "=")
		if !hasValue {
			switch key {
			case "delete":
				if err := b.SetOption(OptKeyDelete, ""); err != nil {
					return err
				}
			case "compress":
				if err := b.SetOption(OptKeyCompress, ""); err != nil {
					return err
				}
			case "use-rel-suffix":
				if err := b.SetOption(OptKeyUseRelSuffix, ""); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unrecognized flag %q", key)
			}
			continue
		}

		switch key {
		case "host":
			if err := b.SetHost(value); err != nil {
				return err
			}
		case "base":
			if err := b.SetOption(OptKeyBase, value); err != nil {
				return err
			}
		case "date":
			if err := b.SetOption(OptKeyDate, value); err != nil {
				return err
			}
		case "prefix":
			if err := b.SetOption(OptKeyPrefix, value); err != nil {
				return err
			}
		case "release":
			if err := b.SetOption(OptKeyRelease, value); err != nil {
				return err
			}
		case "tag":
			if err := b.SetOption(OptKeyTag, value); err != nil {
				return err
			}
		case "umask":
			if err := b.SetOption(OptKeyUmask, value); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unrecognized field %q", key)
		}
	}
	return nil
}
