package vcd

import (
	"reflect"
	"testing"
)

func parseHeader(data string, chunk int) *Header {
	p := NewHeaderParser()
	for _, c := range chunked(data, chunk) {
		if _, done := p.Feed(c); done {
			break
		}
	}
	return p.Header()
}

func TestHeaderNestedScopes(t *testing.T) {
	data := `$timescale 10ps $end
$scope module top $end
$scope module sub $end
$var wire 1 ! clk $end
$var wire 8 " data $end
$upscope $end
$upscope $end
$enddefinitions $end
#0
`
	view := parseHeader(data, 5).View()

	wantTree := Tree{"top": Tree{"sub": Tree{}}}
	if !reflect.DeepEqual(view.Modules, wantTree) {
		t.Fatalf("modules = %v, want %v", view.Modules, wantTree)
	}
	wantSub := []string{"! clk", `" data [7:0]`}
	if !reflect.DeepEqual(view.SignalsOfModule["sub"], wantSub) {
		t.Fatalf("sub signals = %q, want %q", view.SignalsOfModule["sub"], wantSub)
	}
	if got := view.SignalsOfModule["top"]; len(got) != 0 {
		t.Fatalf("top signals = %q, want none", got)
	}
	if view.Timescale != "10ps" {
		t.Fatalf("timescale = %q", view.Timescale)
	}
}

func TestHeaderMetadataAndArena(t *testing.T) {
	h := parseHeader(sampleDump, 13)

	if h.TimeUnit != "1ns" {
		t.Fatalf("time unit = %q", h.TimeUnit)
	}
	if h.Meta["version"] != "Icarus Verilog" {
		t.Fatalf("version = %q", h.Meta["version"])
	}
	if h.Meta["date"] != "Mon Jan  1 00:00:00 2024" {
		t.Fatalf("date = %q", h.Meta["date"])
	}
	if len(h.Modules) != 2 {
		t.Fatalf("modules = %d, want 2", len(h.Modules))
	}
	if roots := h.Roots(); !reflect.DeepEqual(roots, []int{0}) {
		t.Fatalf("roots = %v", roots)
	}
	top, sub := h.Modules[0], h.Modules[1]
	if top.Name != "top" || sub.Name != "sub" || sub.Parent != 0 || !reflect.DeepEqual(top.Children, []int{1}) {
		t.Fatalf("unexpected arena: %+v", h.Modules)
	}
	data := sub.Signals[1]
	if data.ID != "#" || data.Width != 8 || data.Range != "[7:0]" || data.Type != "wire" {
		t.Fatalf("unexpected signal: %+v", data)
	}
}

func TestHeaderStopsAtEndDefinitions(t *testing.T) {
	data := "$scope module a $end $upscope $end $enddefinitions $end\n#0\n$var wire 1 x late $end\n"
	p := NewHeaderParser()
	n, done := p.Feed([]byte(data))
	if !done {
		t.Fatalf("expected header to close")
	}
	if data[:n] != "$scope module a $end $upscope $end $enddefinitions $end" {
		t.Fatalf("consumed %q", data[:n])
	}
	if n2, done := p.Feed([]byte("more")); n2 != 0 || !done {
		t.Fatalf("feeding a closed parser must be a no-op")
	}
	if len(p.Header().Modules[0].Signals) != 0 {
		t.Fatalf("declarations after $enddefinitions must be ignored")
	}
}

func TestHeaderBestEffortOnMalformed(t *testing.T) {
	data := `$var wire 1 ! orphan $end
$scope module $end
$scope module ok $end
$var wire x " bad $end
$var wire 1 # $end
$var reg 4 $ good $end
$upscope $end
$upscope $end
$enddefinitions $end
`
	p := NewHeaderParser()
	p.Feed([]byte(data))
	view := p.Header().View()
	if !reflect.DeepEqual(view.SignalsOfModule["ok"], []string{"$ good [3:0]"}) {
		t.Fatalf("ok signals = %q", view.SignalsOfModule["ok"])
	}
	if got := p.Diagnostics().MalformedDecls; got != 5 {
		t.Fatalf("malformed = %d, want 5", got)
	}
}

func TestHeaderTabsAndLeadingNoise(t *testing.T) {
	data := "\t$comment\n  generated\n  by test\n$end\nxx $scope\tmodule\ttop $end\n$upscope $end\n$enddefinitions $end"
	h := parseHeader(data, 4)
	if h.Meta["comment"] != "generated   by test" {
		t.Fatalf("comment = %q", h.Meta["comment"])
	}
	if len(h.Modules) != 1 || h.Modules[0].Name != "top" {
		t.Fatalf("modules = %+v", h.Modules)
	}
}
