// Package pathcomp implements the path compressor used by the status
// store (spec §4.3) to keep the DIRDOWN/DIRUP brackets of a written
// status file matched to the directory tree implied by the records
// actually written, even when callers only ever hand it file paths.
package pathcomp

import "strings"

// Op is the kind of event fed to or emitted by a Compressor.
type Op int

const (
	DirDown Op = iota
	DirUp
	File
)

// Emit is one DIRDOWN/DIRUP the compressor produces, carrying only the
// basename: the caller already knows the enclosing path from its own
// position.
type Emit struct {
	Op   Op
	Name string
}

// Compressor tracks the stack of currently open directories and
// produces the minimal DIRDOWN/DIRUP sequence needed to move from the
// current position to the directory implied by the next event.
type Compressor struct {
	stack []string // path segments of currently open directories
}

// New returns an empty Compressor, positioned at the collection root.
func New() *Compressor {
	return &Compressor{}
}

func splitDir(path string) []string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// Put feeds one event to the compressor and returns the DIRDOWN/DIRUP
// emits needed before the event itself can be recorded. For a File
// event, path is the file's full path and the directory boundary is
// derived from it; for DirDown/DirUp, path is the full path of the
// directory being entered or left.
func (c *Compressor) Put(op Op, path string) []Emit {
	switch op {
	case DirDown:
		c.stack = append(c.stack, basename(path))
		return []Emit{{Op: DirDown, Name: basename(path)}}
	case DirUp:
		c.pop()
		return []Emit{{Op: DirUp, Name: basename(path)}}
	case File:
		return c.moveTo(splitDir(parentDir(path)))
	default:
		return nil
	}
}

// Finish closes every directory still open, deepest first, as the
// status store's writer does at end of file so every DIRDOWN is
// matched before the stream closes.
func (c *Compressor) Finish() []Emit {
	return c.moveTo(nil)
}

// moveTo emits the DIRUPs and DIRDOWNs needed to change the open
// directory stack from its current contents to target.
func (c *Compressor) moveTo(target []string) []Emit {
	n := 0
	for n < len(c.stack) && n < len(target) && c.stack[n] == target[n] {
		n++
	}

	var emits []Emit
	for i := len(c.stack) - 1; i >= n; i-- {
		emits = append(emits, Emit{Op: DirUp, Name: c.stack[i]})
	}
	c.stack = c.stack[:n]

	for i := n; i < len(target); i++ {
		c.stack = append(c.stack, target[i])
		emits = append(emits, Emit{Op: DirDown, Name: target[i]})
	}
	return emits
}

func (c *Compressor) pop() {
	if len(c.stack) == 0 {
		return
	}
	c.stack = c.stack[:len(c.stack)-1]
}

func basename(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// Depth reports how many directories are currently open.
func (c *Compressor) Depth() int {
	return len(c.stack)
}
