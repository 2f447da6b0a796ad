package vcd

// trieArity covers printable ASCII, which is all VCD allows in identifier codes.
const trieArity = 128

type trieNode struct {
	children [trieArity]*trieNode
	terminal bool
}

// Trie is a prefix tree over a fixed set of identifier codes.
// A node can be terminal and still have children when one code is a strict
// prefix of another ("!" and "!!").
type Trie struct {
	root *trieNode
	size int
}

// NewTrie builds a trie from the given identifier codes. Empty codes and
// codes containing bytes outside printable ASCII are ignored.
func NewTrie(ids []string) *Trie {
	t := &Trie{root: &trieNode{}}
	for _, id := range ids {
		t.insert(id)
	}
	return t
}

func (t *Trie) insert(id string) {
	if id == "" {
		return
	}
	for i := 0; i < len(id); i++ {
		if id[i] >= trieArity || isLineEnd(id[i]) {
			return
		}
	}
	node := t.root
	for i := 0; i < len(id); i++ {
		next := node.children[id[i]]
		if next == nil {
			next = &trieNode{}
			node.children[id[i]] = next
		}
		node = next
	}
	if !node.terminal {
		node.terminal = true
		t.size++
	}
}

// Len returns the number of distinct identifiers in the trie.
func (t *Trie) Len() int {
	return t.size
}

// Contains reports whether id is one of the identifiers the trie was built from.
func (t *Trie) Contains(id string) bool {
	node := t.root
	for i := 0; i < len(id); i++ {
		if id[i] >= trieArity {
			return false
		}
		node = node.children[id[i]]
		if node == nil {
			return false
		}
	}
	return node.terminal
}

// MatchResult is the outcome of feeding one byte to a Cursor.
type MatchResult uint8

const (
	// Descend means the bytes so far are a prefix of at least one identifier.
	Descend MatchResult = iota
	// Match means a complete identifier was followed by a line end.
	Match
	// Fail means the bytes so far cannot become any identifier.
	Fail
)

// Cursor walks a Trie one byte at a time. It is a plain value so scanners
// can keep it in their own state across chunk boundaries.
type Cursor struct {
	trie *Trie
	node *trieNode
	name []byte
}

// Cursor returns a cursor positioned at the root.
func (t *Trie) Cursor() Cursor {
	return Cursor{trie: t, node: t.root}
}

// Step advances the cursor by one input byte. A line end completes a match
// when the cursor sits on a terminal node.
func (c *Cursor) Step(b byte) MatchResult {
	if isLineEnd(b) {
		if c.node.terminal && len(c.name) > 0 {
			return Match
		}
		return Fail
	}
	if b >= trieArity {
		return Fail
	}
	next := c.node.children[b]
	if next == nil {
		return Fail
	}
	c.node = next
	c.name = append(c.name, b)
	return Descend
}

// Name returns the identifier accumulated so far.
func (c *Cursor) Name() string {
	return string(c.name)
}

// Reset moves the cursor back to the root, keeping its buffer.
func (c *Cursor) Reset() {
	c.node = c.trie.root
	c.name = c.name[:0]
}

func isLineEnd(b byte) bool {
	return b == '\n' || b == '\r'
}
