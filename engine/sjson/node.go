// Package sjson parses the simplified JSON dialect used by resource
// descriptors. The dialect is a superset of JSON: the outer braces of the
// root object may be omitted, keys may be unquoted identifiers, either '='
// or ':' separates key and value, commas between members and elements are
// optional, and '//' and '/* */' comments are allowed. Every valid JSON
// document is therefore also a valid document here.
package sjson

import "fmt"

// Kind discriminates the variants of a Node.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "invalid"
}

// Node is one value of a parsed document. Nodes form a tree rooted at the
// object returned by Parse and are only valid for the duration of the
// compile job that parsed them.
type Node struct {
	kind Kind

	str  string
	num  float64
	b    bool
	arr  []*Node
	keys []string
	vals []*Node
	idx  map[string]int

	line, col int
}

// Kind reports the variant of the node.
func (n *Node) Kind() Kind { return n.kind }

func (n *Node) mismatch(want Kind) error {
	return fmt.Errorf("sjson: line %d:%d: expected %s, got %s", n.line, n.col, want, n.kind)
}

// Str returns the string value, or an error if the node is not a string.
func (n *Node) Str() (string, error) {
	if n.kind != KindString {
		return "", n.mismatch(KindString)
	}
	return n.str, nil
}

// Num returns the numeric value, or an error if the node is not a number.
func (n *Node) Num() (float64, error) {
	if n.kind != KindNumber {
		return 0, n.mismatch(KindNumber)
	}
	return n.num, nil
}

// Int returns the numeric value truncated to an integer.
func (n *Node) Int() (int, error) {
	f, err := n.Num()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// Bool returns the boolean value, or an error if the node is not a bool.
func (n *Node) Bool() (bool, error) {
	if n.kind != KindBool {
		return false, n.mismatch(KindBool)
	}
	return n.b, nil
}

// Items returns the elements of an array node.
func (n *Node) Items() ([]*Node, error) {
	if n.kind != KindArray {
		return nil, n.mismatch(KindArray)
	}
	return n.arr, nil
}

// Len returns the number of members of an object or elements of an array,
// and 0 for every other kind.
func (n *Node) Len() int {
	switch n.kind {
	case KindObject:
		return len(n.keys)
	case KindArray:
		return len(n.arr)
	}
	return 0
}

// Has reports whether the object has a member named key.
func (n *Node) Has(key string) bool {
	if n.kind != KindObject {
		return false
	}
	_, ok := n.idx[key]
	return ok
}

// Get returns the member named key of an object node. Lookup is by exact
// key, no path syntax.
func (n *Node) Get(key string) (*Node, bool) {
	if n.kind != KindObject {
		return nil, false
	}
	i, ok := n.idx[key]
	if !ok {
		return nil, false
	}
	return n.vals[i], true
}

// Keys returns the member names of an object node in insertion order.
func (n *Node) Keys() []string {
	return n.keys
}

// Line and Col report the 1-based position where the node started.
func (n *Node) Line() int { return n.line }
func (n *Node) Col() int  { return n.col }

func (n *Node) put(key string, v *Node) {
	if i, ok := n.idx[key]; ok {
		// Duplicate key: the last value wins, the key keeps its
		// original position.
		n.vals[i] = v
		return
	}
	n.idx[key] = len(n.keys)
	n.keys = append(n.keys, key)
	n.vals = append(n.vals, v)
}
