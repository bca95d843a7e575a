package rcs

import (
	"fmt"
	"os"
)

// Parse reads an RCS ,v file already loaded into memory and builds its
// File representation: the admin header, the delta graph, and — unless
// readOnly is set, in which case the (possibly large) delta bodies are
// skipped — every delta's log message and diff text.
// Grounded on rcsparse's three-pass structure (parse_admin/parse_deltas/
// parse_deltatexts).
func Parse(data []byte, readOnly bool) (*File, error) {
	lx := NewLexer(data)
	f := newFile()

	if err := parseAdmin(f, lx); err != nil {
		return nil, err
	}
	if err := parseDeltas(f, lx); err != nil {
		return nil, err
	}

	if _, ok := lx.WantKeyword("desc"); !ok {
		return nil, fmt.Errorf("rcs: expected desc")
	}
	desc, ok := lx.WantString()
	if !ok {
		return nil, fmt.Errorf("rcs: expected desc text")
	}
	f.Desc = desc.Value

	if !readOnly {
		if err := parseDeltaTexts(f, lx); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ParseFile reads path and parses it as an RCS file. The source
// memory-maps the file and lexes directly from the mapping; this reads it
// into memory up front instead; see the module's grounding note on that
// REDESIGN FLAG.
func ParseFile(path string, readOnly bool) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, readOnly)
}

// parseAdmin parses everything up to (not including) the deltas section:
// head, optional branch, access, symbols, locks, and the optional strict/
// comment/expand/newphrase clauses, stopping as soon as none of those
// match.
func parseAdmin(f *File, lx *Lexer) error {
	if _, ok := lx.WantKeyword("head"); !ok {
		return fmt.Errorf("rcs: expected head")
	}
	head, ok := lx.GetNum()
	if !ok {
		return fmt.Errorf("rcs: expected head revision")
	}
	f.Head = head
	if _, ok := lx.WantSemicolon(); !ok {
		return fmt.Errorf("rcs: expected ';' after head")
	}

	tok, ok := lx.WantID()
	if !ok {
		return fmt.Errorf("rcs: expected branch or access")
	}
	if IsKeyword(tok, "branch") {
		branch, ok := lx.GetNum()
		if !ok {
			return fmt.Errorf("rcs: expected branch revision")
		}
		f.Branch = branch
		if _, ok := lx.WantSemicolon(); !ok {
			return fmt.Errorf("rcs: expected ';' after branch")
		}
		tok, ok = lx.Get()
		if !ok {
			return fmt.Errorf("rcs: expected access")
		}
	}
	if !IsKeyword(tok, "access") {
		return fmt.Errorf("rcs: expected access")
	}

	var t Token
	for {
		var ok bool
		t, ok = lx.Get()
		if !ok || t.Type != TokID {
			break
		}
		f.Access = append(f.Access, t.Value)
	}
	if t.Type != TokSemicolon {
		return fmt.Errorf("rcs: expected ';' after access")
	}

	if _, ok := lx.WantKeyword("symbols"); !ok {
		return fmt.Errorf("rcs: expected symbols")
	}
	for {
		var ok bool
		t, ok = lx.Get()
		if !ok || t.Type != TokID {
			break
		}
		sym := t.Value
		if _, ok := lx.WantColon(); !ok {
			return fmt.Errorf("rcs: expected ':' after symbol %q", sym)
		}
		num, ok := lx.GetNum()
		if !ok {
			return fmt.Errorf("rcs: expected revision for symbol %q", sym)
		}
		f.Symbols[sym] = num
	}
	if t.Type != TokSemicolon {
		return fmt.Errorf("rcs: expected ';' after symbols")
	}

	// Locks are parsed only to stay in sync with the grammar; the
	// updater never needs to know who holds one.
	if _, ok := lx.WantKeyword("locks"); !ok {
		return fmt.Errorf("rcs: expected locks")
	}
	for {
		var ok bool
		t, ok = lx.Get()
		if !ok || t.Type != TokID {
			break
		}
		if _, ok := lx.WantColon(); !ok {
			return fmt.Errorf("rcs: expected ':' in locks entry")
		}
		if _, ok := lx.WantID(); !ok {
			return fmt.Errorf("rcs: expected revision in locks entry")
		}
	}
	if t.Type != TokSemicolon {
		return fmt.Errorf("rcs: expected ';' after locks")
	}

	for {
		t, ok := lx.Get()
		if !ok {
			return nil
		}
		switch {
		case t.Type != TokID:
			lx.Unget()
			return nil
		case IsKeyword(t, "strict"):
			f.Strict = true
			if _, ok := lx.WantSemicolon(); !ok {
				return fmt.Errorf("rcs: expected ';' after strict")
			}
		case IsKeyword(t, "comment"):
			str, ok := lx.WantString()
			if !ok {
				return fmt.Errorf("rcs: expected comment string")
			}
			f.Comment = str.Value
			if _, ok := lx.WantSemicolon(); !ok {
				return fmt.Errorf("rcs: expected ';' after comment")
			}
		case IsKeyword(t, "expand"):
			str, ok := lx.WantString()
			if !ok {
				return fmt.Errorf("rcs: expected expand string")
			}
			mode, ok := DecodeExpandMode(str.Value)
			if !ok {
				return fmt.Errorf("rcs: unknown expand mode %q", str.Value)
			}
			f.Expand = mode
			if _, ok := lx.WantSemicolon(); !ok {
				return fmt.Errorf("rcs: expected ';' after expand")
			}
		case ValidateID(t.Value):
			if err := skipNewphrase(lx); err != nil {
				return err
			}
		default:
			lx.Unget()
			return nil
		}
	}
}

// skipNewphrase consumes an RCS "newphrase": an identifier already read,
// followed by zero or more id/string/colon tokens, terminated by a ';'.
func skipNewphrase(lx *Lexer) error {
	for {
		t, ok := lx.Get()
		if !ok {
			return fmt.Errorf("rcs: unterminated phrase")
		}
		if t.Type != TokID && t.Type != TokString && t.Type != TokColon {
			if t.Type != TokSemicolon {
				return fmt.Errorf("rcs: expected ';' to end phrase")
			}
			return nil
		}
	}
}

// parseDeltas parses the sequence of delta headers between admin and
// "desc", stopping (and pushing the lookahead token back) as soon as a
// token isn't a revision number.
func parseDeltas(f *File, lx *Lexer) error {
	for {
		tok, ok := lx.Get()
		if !ok {
			return nil
		}
		if tok.Type != TokID || !ValidateNum(tok.Value) {
			lx.Unget()
			return nil
		}
		revnum := tok.Value

		if _, ok := lx.WantKeyword("date"); !ok {
			return fmt.Errorf("rcs: expected date for delta %s", revnum)
		}
		revdate, ok := lx.GetNum()
		if !ok {
			return fmt.Errorf("rcs: expected date value for delta %s", revnum)
		}
		if _, ok := lx.WantSemicolon(); !ok {
			return fmt.Errorf("rcs: expected ';' after date for delta %s", revnum)
		}

		if _, ok := lx.WantKeyword("author"); !ok {
			return fmt.Errorf("rcs: expected author for delta %s", revnum)
		}
		author, ok := lx.GetID()
		if !ok {
			return fmt.Errorf("rcs: expected author value for delta %s", revnum)
		}
		if _, ok := lx.WantSemicolon(); !ok {
			return fmt.Errorf("rcs: expected ';' after author for delta %s", revnum)
		}

		if _, ok := lx.WantKeyword("state"); !ok {
			return fmt.Errorf("rcs: expected state for delta %s", revnum)
		}
		t, ok := lx.Get()
		if !ok {
			return fmt.Errorf("rcs: expected state value for delta %s", revnum)
		}
		var state string
		if t.Type == TokID && ValidateID(t.Value) {
			state = t.Value
			t, ok = lx.Get()
			if !ok {
				return fmt.Errorf("rcs: expected ';' after state for delta %s", revnum)
			}
		}
		if t.Type != TokSemicolon {
			return fmt.Errorf("rcs: expected ';' after state for delta %s", revnum)
		}

		if _, ok := lx.WantKeyword("branches"); !ok {
			return fmt.Errorf("rcs: expected branches for delta %s", revnum)
		}
		t, ok = lx.Get()
		if !ok {
			return fmt.Errorf("rcs: expected branches list for delta %s", revnum)
		}
		for ok && t.Type == TokID && ValidateNum(t.Value) {
			t, ok = lx.Get()
		}
		if !ok || t.Type != TokSemicolon {
			return fmt.Errorf("rcs: expected ';' after branches for delta %s", revnum)
		}

		if _, ok := lx.WantKeyword("next"); !ok {
			return fmt.Errorf("rcs: expected next for delta %s", revnum)
		}
		t, ok = lx.Get()
		if !ok {
			return fmt.Errorf("rcs: expected next value for delta %s", revnum)
		}
		var next string
		if t.Type == TokID && ValidateNum(t.Value) {
			next = t.Value
			t, ok = lx.Get()
			if !ok {
				return fmt.Errorf("rcs: expected ';' after next for delta %s", revnum)
			}
		}
		if t.Type != TokSemicolon {
			return fmt.Errorf("rcs: expected ';' after next for delta %s", revnum)
		}

		t, ok = lx.Get()
		for ok && !IsKeyword(t, "desc") && t.Type == TokID && ValidateID(t.Value) {
			if err := skipNewphrase(lx); err != nil {
				return err
			}
			t, ok = lx.Get()
		}
		if !ok {
			return fmt.Errorf("rcs: unexpected end of deltas section for delta %s", revnum)
		}
		lx.Unget()

		f.Deltas[revnum] = &Delta{
			RevNum:  revnum,
			RevDate: revdate,
			Author:  author,
			State:   state,
			Next:    next,
		}
	}
}

// parseDeltaTexts parses the deltatexts section, filling in each
// previously-imported delta's log message and diff body. A revision
// number with no matching delta header is tolerated the way the source
// tolerates it: the file is treated as if it ended here, trusting a
// downstream checksum mismatch to trigger a refetch.
func parseDeltaTexts(f *File, lx *Lexer) error {
	for {
		revnum, ok := lx.GetNum()
		if !ok {
			break
		}
		d := f.GetDelta(revnum)
		if d == nil {
			return nil
		}

		if _, ok := lx.WantKeyword("log"); !ok {
			return fmt.Errorf("rcs: expected log for delta %s", revnum)
		}
		logTok, ok := lx.WantString()
		if !ok {
			return fmt.Errorf("rcs: expected log text for delta %s", revnum)
		}
		d.Log = logTok.Value

		t, ok := lx.Get()
		for ok && !IsKeyword(t, "text") && t.Type == TokID && ValidateID(t.Value) {
			if err := skipNewphrase(lx); err != nil {
				return err
			}
			t, ok = lx.Get()
		}
		if !ok || !IsKeyword(t, "text") {
			return fmt.Errorf("rcs: expected text for delta %s", revnum)
		}
		textTok, ok := lx.WantString()
		if !ok {
			return fmt.Errorf("rcs: expected text body for delta %s", revnum)
		}
		d.Text = textTok.Value
	}
	if !lx.Eof() {
		return fmt.Errorf("rcs: trailing data after deltatexts")
	}
	return nil
}
