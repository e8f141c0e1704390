package frame

import (
	"reflect"
	"testing"
)

func TestAssemblerSplitsOnCR(t *testing.T) {
	var a Assembler
	got := a.Feed([]byte("VER\rSTA=6C\r"))
	want := []string{"VER", "STA=6C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if a.Pending() {
		t.Fatal("expected no pending partial frame")
	}
}

func TestAssemblerRetainsPartialAcrossFeeds(t *testing.T) {
	var a Assembler
	if got := a.Feed([]byte("TM")); len(got) != 0 {
		t.Fatalf("expected no frames yet, got %v", got)
	}
	if !a.Pending() {
		t.Fatal("expected a pending partial frame")
	}
	got := a.Feed([]byte("P=28\r"))
	want := []string{"TMP=28"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAssemblerStripsWhitespace(t *testing.T) {
	var a Assembler
	got := a.Feed([]byte("  VER \t\r"))
	if len(got) != 1 || got[0] != "VER" {
		t.Fatalf("got %v, want [VER]", got)
	}
}

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"VER", "STA=6C", "FAN=1E", "ACK", "ERR"}
	for _, c := range cases {
		f := Parse(c)
		if f.String() != c {
			t.Errorf("Parse(%q).String() = %q, want %q", c, f.String(), c)
		}
	}
}

func TestParseLowercasesCodeNormalizedToUpper(t *testing.T) {
	f := Parse("ver")
	if f.Code != "VER" {
		t.Errorf("expected upper-cased code VER, got %q", f.Code)
	}
}

func TestEncode(t *testing.T) {
	if got := string(Encode("FAN", "1E")); got != "FAN=1E\r" {
		t.Errorf("got %q", got)
	}
	if got := string(Encode("VER", "")); got != "VER\r" {
		t.Errorf("got %q", got)
	}
}
