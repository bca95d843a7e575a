// Package globtree implements the boolean filename-matching
// expression tree used to decide which files are excluded from the
// rsync delta path (the collection's "norsync" predicate, spec
// §4.8). It is grounded on original_source/globtree.c.
//
// The source built this as a non-recursive tree walk with an explicit
// SLIST stack, because C gives no guarantee a thread's stack can grow
// to match an arbitrarily deep expression. A goroutine's stack grows
// on demand, so Test below is ordinary recursion using Go's own &&/||
// short-circuiting in place of the STATE_DOINGLEFT/STATE_DOINGRIGHT
// resumption dance.
package globtree

import (
	"path/filepath"
	"regexp"
)

// Tree is a boolean expression over a filename.
type Tree interface {
	Test(path string) bool
}

type trueNode struct{}
type falseNode struct{}

func (trueNode) Test(string) bool  { return true }
func (falseNode) Test(string) bool { return false }

// True returns an expression that matches every name.
func True() Tree { return trueNode{} }

// False returns an expression that matches no name.
func False() Tree { return falseNode{} }

type matchNode struct {
	pattern string
}

func (m matchNode) Test(path string) bool {
	ok, err := filepath.Match(m.pattern, path)
	return err == nil && ok
}

// Match returns a leaf that accepts names matching the shell glob
// pattern (fnmatch's FNM_PATHNAME-style semantics via filepath.Match,
// the closest stdlib equivalent: no third-party fnmatch exists in the
// dependency pack).
func Match(pattern string) Tree {
	return matchNode{pattern: pattern}
}

type regexNode struct {
	re *regexp.Regexp
}

func (r regexNode) Test(path string) bool {
	return r.re.MatchString(path)
}

// Regex returns a leaf that accepts names matching the given regular
// expression, compiled once at construction time (regcomp's role).
func Regex(pattern string) (Tree, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return regexNode{re: re}, nil
}

type notNode struct{ child Tree }

func (n notNode) Test(path string) bool { return !n.child.Test(path) }

// Not negates child, folding a constant child into the opposite
// constant the way globtree_not does; a Not of a Not is not collapsed.
func Not(child Tree) Tree {
	switch child.(type) {
	case trueNode:
		return False()
	case falseNode:
		return True()
	}
	return notNode{child: child}
}

type andNode struct{ left, right Tree }

func (a andNode) Test(path string) bool { return a.left.Test(path) && a.right.Test(path) }

// And combines two expressions, short-circuiting exactly as
// globtree_test's STATE_DOINGLEFT/STATE_DOINGRIGHT walk does, and
// simplifying away constant operands the way globtree_and does.
func And(left, right Tree) Tree {
	if isFalse(left) || isFalse(right) {
		return False()
	}
	if isTrue(left) {
		return right
	}
	if isTrue(right) {
		return left
	}
	return andNode{left: left, right: right}
}

type orNode struct{ left, right Tree }

func (o orNode) Test(path string) bool { return o.left.Test(path) || o.right.Test(path) }

// Or combines two expressions with the same short-circuit and
// constant-folding behavior as globtree_or.
func Or(left, right Tree) Tree {
	if isTrue(left) || isTrue(right) {
		return True()
	}
	if isFalse(left) {
		return right
	}
	if isFalse(right) {
		return left
	}
	return orNode{left: left, right: right}
}

func isTrue(t Tree) bool {
	_, ok := t.(trueNode)
	return ok
}

func isFalse(t Tree) bool {
	_, ok := t.(falseNode)
	return ok
}
