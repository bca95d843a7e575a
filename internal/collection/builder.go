package collection

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/maxux/csup/internal/globtree"
	"github.com/maxux/csup/internal/rcs"
)

// OptKey identifies a per-collection option directive, the Go equivalent
// of config.c's PT_* constants passed to coll_setopt.
type OptKey int

const (
	OptKeyBase OptKey = iota
	OptKeyDate
	OptKeyPrefix
	OptKeyRelease
	OptKeyTag
	OptKeyUmask
	OptKeyUseRelSuffix
	OptKeyDelete
	OptKeyCompress
)

// Builder accumulates a Config from a sequence of directives, replacing
// the source's cur_coll/defaults/config/cfgfile globals (a consequence of
// being driven from a yacc grammar) with explicit fields on a value that
// can be passed around and tested without process-wide state.
type Builder struct {
	config   *Config
	defaults *Collection
	current  *Collection
	hostSet  bool
}

// NewBuilder returns a Builder with CVSup's built-in collection defaults:
// SETMODE|EXACTRCS|CHECKRCS and the process umask, mirroring config_init's
// setup of the "defaults" collection before parsing begins.
func NewBuilder(umask fs.FileMode) *Builder {
	b := &Builder{
		config: &Config{},
		defaults: &Collection{
			Options: OptSetMode | OptExactRCS | OptCheckRCS,
			Umask:   umask,
			NorSync: globtree.False(),
		},
	}
	b.current = b.newCollection()
	return b
}

// newCollection allocates a fresh in-progress collection inheriting the
// current defaults template, mirroring coll_new.
func (b *Builder) newCollection() *Collection {
	return &Collection{
		Options: b.defaults.Options,
		Umask:   b.defaults.Umask,
		Base:    b.defaults.Base,
		Date:    b.defaults.Date,
		Prefix:  b.defaults.Prefix,
		Release: b.defaults.Release,
		Tag:     b.defaults.Tag,
		CVSRoot: b.defaults.CVSRoot,
		NorSync: b.defaults.NorSync,
	}
}

// SetHost records the server the supfile names. Every "host" directive
// must agree, mirroring config_sethost's "all host fields must be the
// same" restriction (the source rejects a second directive outright, even
// one repeating the same hostname).
func (b *Builder) SetHost(host string) error {
	if b.hostSet {
		return fmt.Errorf("collection: all \"host\" fields in the supfile must be the same")
	}
	b.config.Host = host
	b.hostSet = true
	return nil
}

// SetOption applies one directive to the collection currently being
// built, mirroring coll_setopt's switch over PT_*.
func (b *Builder) SetOption(key OptKey, value string) error {
	c := b.current
	switch key {
	case OptKeyBase:
		c.Base = value
	case OptKeyDate:
		c.Date = value
	case OptKeyPrefix:
		c.Prefix = value
	case OptKeyRelease:
		c.Release = value
	case OptKeyTag:
		c.Tag = value
	case OptKeyUmask:
		v, err := strconv.ParseUint(value, 8, 32)
		if err != nil {
			return fmt.Errorf("collection: invalid umask value %q", value)
		}
		c.Umask = fs.FileMode(v)
	case OptKeyUseRelSuffix:
		c.Options |= OptUseRelSuffix
	case OptKeyDelete:
		c.Options |= OptDelete
	case OptKeyCompress:
		c.Options |= OptCompress
	}
	return nil
}

// keywordSet lazily allocates the current collection's keyword set,
// mirroring co_keyword being NULL until first touched.
func (b *Builder) keywordSet() *rcs.Keyword {
	if b.current.Keyword == nil {
		b.current.Keyword = rcs.NewKeyword()
	}
	return b.current.Keyword
}

// EnableKeyword, DisableKeyword and AliasKeyword adjust the current
// collection's RCS keyword expansion set.
func (b *Builder) EnableKeyword(ident string) error  { return b.keywordSet().Enable(ident) }
func (b *Builder) DisableKeyword(ident string) error { return b.keywordSet().Disable(ident) }
func (b *Builder) AliasKeyword(ident, rcskey string) error {
	return b.keywordSet().Alias(ident, rcskey)
}

// Add finalizes the collection currently being built under name and
// starts a new one inheriting the same defaults, mirroring coll_add.
func (b *Builder) Add(name string) {
	b.current.Name = name
	b.config.Collections = append(b.config.Collections, b.current)
	b.current = b.newCollection()
}

// SetDefault promotes the collection currently being built to be the
// template every later collection inherits from, mirroring coll_setdef.
func (b *Builder) SetDefault() {
	b.defaults = b.current
	b.current = b.newCollection()
}

// Finish applies config_init's post-parse fixup pass and command-line
// overrides, producing the final Config. compress follows getopt's
// tri-state convention: positive forces compression on, negative forces
// it off, zero leaves each collection's own setting alone.
func (b *Builder) Finish(hostOverride, baseOverride, colldirOverride string, port uint16, compress int, trustStatusFile bool) (*Config, error) {
	for _, c := range b.config.Collections {
		if c.Release == "" {
			return nil, fmt.Errorf("collection: release not specified for collection %q", c.Name)
		}
		if c.Tag == "" && c.Date == "" {
			return nil, fmt.Errorf("collection: collection %q supports checkout mode only (need tag or date)", c.Name)
		}
		c.Options |= OptCheckoutMode
		if c.Tag == "" {
			c.Tag = "."
		}
		if c.Date == "" {
			c.Date = "."
		}

		switch {
		case baseOverride != "":
			c.Base = baseOverride
		case c.Base == "":
			c.Base = "/usr/local/etc/cvsup"
		}
		if c.Prefix == "" {
			c.Prefix = c.Base
		} else if !strings.HasPrefix(c.Prefix, "/") {
			if strings.HasSuffix(c.Base, "/") {
				c.Prefix = c.Base + c.Prefix
			} else {
				c.Prefix = c.Base + "/" + c.Prefix
			}
		}
		c.PrefixLen = len(c.Prefix)

		switch {
		case compress > 0:
			c.Options |= OptCompress
		case compress < 0:
			c.Options &^= OptCompress
		}
		if trustStatusFile {
			c.Options |= OptTrustStatusFile
		}
		if colldirOverride != "" {
			c.CollDir = colldirOverride
		} else {
			c.CollDir = "sup"
		}
	}

	if hostOverride != "" {
		b.config.Host = hostOverride
	}
	b.config.Port = port
	return b.config, nil
}
