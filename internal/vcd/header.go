package vcd

import (
	"bytes"
	"strconv"
	"strings"
)

var declarationKeys = []string{
	"$comment",
	"$date",
	"$enddefinitions",
	"$scope",
	"$timescale",
	"$upscope",
	"$var",
	"$version",
}

var endToken = []byte("$end")

// Signal is one $var declaration.
type Signal struct {
	Type    string `json:"type"`
	Width   int    `json:"width"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Range   string `json:"range,omitempty"`
	Display string `json:"display"`
}

// Module is one $scope in the module arena. Parent and Children are
// indices into Header.Modules; Parent is -1 for a scope opened at top level.
type Module struct {
	Name     string   `json:"name"`
	Parent   int      `json:"parent"`
	Children []int    `json:"children,omitempty"`
	Signals  []Signal `json:"signals,omitempty"`
	grafted  bool
}

// Header is the declarations section of a dump.
type Header struct {
	Modules  []Module
	Meta     map[string]string
	TimeUnit string
	MaxTime  *uint64
}

// Roots returns the indices of modules that were never grafted under a
// parent, in declaration order.
func (h *Header) Roots() []int {
	var roots []int
	for i := range h.Modules {
		if !h.Modules[i].grafted {
			roots = append(roots, i)
		}
	}
	return roots
}

// Tree is the nested module hierarchy keyed by scope name.
type Tree map[string]Tree

// HeaderView is the caller-facing shape of a Header.
type HeaderView struct {
	Modules         Tree                `json:"modules"`
	SignalsOfModule map[string][]string `json:"signalsOfModule"`
	Timescale       string              `json:"timescale,omitempty"`
	Date            string              `json:"date,omitempty"`
	Version         string              `json:"version,omitempty"`
	Comment         string              `json:"comment,omitempty"`
	MaxTime         *uint64             `json:"maxTime,omitempty"`
}

// View renders the module arena as a nested tree plus a per-module signal
// catalog. Modules sharing a name share a catalog entry.
func (h *Header) View() HeaderView {
	view := HeaderView{
		Modules:         make(Tree),
		SignalsOfModule: make(map[string][]string),
		Timescale:       h.Meta["timescale"],
		Date:            h.Meta["date"],
		Version:         h.Meta["version"],
		Comment:         h.Meta["comment"],
		MaxTime:         h.MaxTime,
	}
	for _, root := range h.Roots() {
		view.Modules[h.Modules[root].Name] = h.subtree(root)
	}
	for _, m := range h.Modules {
		list, ok := view.SignalsOfModule[m.Name]
		if !ok {
			list = []string{}
		}
		for _, s := range m.Signals {
			list = append(list, s.Display)
		}
		view.SignalsOfModule[m.Name] = list
	}
	return view
}

func (h *Header) subtree(idx int) Tree {
	tree := make(Tree)
	for _, child := range h.Modules[idx].Children {
		tree[h.Modules[child].Name] = h.subtree(child)
	}
	return tree
}

// HeaderParser consumes the declarations section one byte at a time.
// It alternates between collecting a keyword and collecting the value that
// runs up to the $end terminator.
type HeaderParser struct {
	key     []byte
	value   []byte
	keyword bool
	closed  bool
	stack   []int
	header  Header
	diag    Diagnostics
}

// NewHeaderParser returns a parser positioned at the start of a file.
func NewHeaderParser() *HeaderParser {
	return &HeaderParser{
		header: Header{Meta: make(map[string]string)},
	}
}

// Feed consumes chunk and reports how many bytes were used. done is true once
// $enddefinitions has been terminated; the remaining input belongs to the
// value-change section and should not be fed.
func (p *HeaderParser) Feed(chunk []byte) (int, bool) {
	if p.closed {
		return 0, true
	}
	for i, b := range chunk {
		p.step(b)
		if p.closed {
			return i + 1, true
		}
	}
	return len(chunk), false
}

// Done reports whether the end of the declarations section was seen.
func (p *HeaderParser) Done() bool {
	return p.closed
}

// Header returns the header assembled so far.
func (p *HeaderParser) Header() *Header {
	h := p.header
	return &h
}

// Diagnostics returns the malformed declaration count.
func (p *HeaderParser) Diagnostics() Diagnostics {
	return p.diag
}

func (p *HeaderParser) step(b byte) {
	if !p.keyword {
		if isSpace(b) {
			return
		}
		p.key = append(p.key, b)
		if !isKeywordPrefix(p.key) {
			p.key = p.key[:0]
			if b == '$' {
				p.key = append(p.key, b)
			}
			return
		}
		if isKeyword(p.key) {
			p.keyword = true
		}
		return
	}
	if isLineEnd(b) {
		b = ' '
	}
	p.value = append(p.value, b)
	if bytes.HasSuffix(p.value, endToken) {
		p.finish()
	}
}

func (p *HeaderParser) finish() {
	body := strings.TrimSpace(string(p.value[:len(p.value)-len(endToken)]))
	switch key := string(p.key); key {
	case "$enddefinitions":
		p.closed = true
	case "$scope":
		p.openScope(body)
	case "$var":
		p.declare(body)
	case "$upscope":
		p.closeScope()
	default:
		name := key[1:]
		p.header.Meta[name] = body
		if name == "timescale" {
			p.header.TimeUnit = body
		}
	}
	p.key = p.key[:0]
	p.value = p.value[:0]
	p.keyword = false
}

// $scope <type> <name> $end
func (p *HeaderParser) openScope(body string) {
	fields := strings.Fields(body)
	if len(fields) < 2 {
		p.diag.MalformedDecls++
		return
	}
	parent := -1
	if n := len(p.stack); n > 0 {
		parent = p.stack[n-1]
	}
	p.header.Modules = append(p.header.Modules, Module{Name: fields[1], Parent: parent})
	p.stack = append(p.stack, len(p.header.Modules)-1)
}

// $var <type> <width> <id> <name> [range] $end
func (p *HeaderParser) declare(body string) {
	fields := strings.Fields(body)
	if len(fields) < 4 || len(p.stack) == 0 {
		p.diag.MalformedDecls++
		return
	}
	width, err := strconv.Atoi(fields[1])
	if err != nil || width < 1 {
		p.diag.MalformedDecls++
		return
	}
	sig := Signal{
		Type:  fields[0],
		Width: width,
		ID:    fields[2],
		Name:  fields[3],
		Range: strings.Join(fields[4:], " "),
	}
	sig.Display = sig.ID + " " + sig.Name
	if width > 1 {
		sig.Display += " [" + strconv.Itoa(width-1) + ":0]"
	}
	top := p.stack[len(p.stack)-1]
	p.header.Modules[top].Signals = append(p.header.Modules[top].Signals, sig)
}

func (p *HeaderParser) closeScope() {
	n := len(p.stack)
	if n == 0 {
		p.diag.MalformedDecls++
		return
	}
	closed := p.stack[n-1]
	p.stack = p.stack[:n-1]
	if n-1 == 0 {
		return
	}
	parent := p.stack[n-2]
	p.header.Modules[parent].Children = append(p.header.Modules[parent].Children, closed)
	p.header.Modules[closed].grafted = true
}

func isKeyword(key []byte) bool {
	for _, k := range declarationKeys {
		if string(key) == k {
			return true
		}
	}
	return false
}

func isKeywordPrefix(key []byte) bool {
	for _, k := range declarationKeys {
		if strings.HasPrefix(k, string(key)) {
			return true
		}
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
