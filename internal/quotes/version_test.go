package quotes

import (
	"strconv"
	"testing"
)

func TestBumpVersionSequence(t *testing.T) {
	cases := []struct{ in, want string }{
		{"0.1", "0.2"},
		{"0.9", "1.0"},
		{"1.0", "1.1"},
		{"1.3", "1.4"},
		{"9.9", "10.0"},
	}
	for _, tc := range cases {
		if got := BumpVersion(tc.in); got != tc.want {
			t.Fatalf("BumpVersion(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBumpVersionResetsUnparsable(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "v2"} {
		if got := BumpVersion(in); got != InitialVersion {
			t.Fatalf("BumpVersion(%q) = %q, want %q", in, got, InitialVersion)
		}
	}
}

func TestBumpVersionMonotonic(t *testing.T) {
	v := InitialVersion
	for i := 0; i < 50; i++ {
		next := BumpVersion(v)
		cur, _ := strconv.ParseFloat(v, 64)
		nxt, err := strconv.ParseFloat(next, 64)
		if err != nil {
			t.Fatalf("BumpVersion produced unparsable %q", next)
		}
		if nxt <= cur {
			t.Fatalf("BumpVersion(%q) = %q, not increasing", v, next)
		}
		v = next
	}
	if v != "5.1" {
		t.Fatalf("expected 50 bumps from 0.1 to land on 5.1, got %q", v)
	}
}

func TestRequiresComment(t *testing.T) {
	if !RequiresComment("0.1", "0.2") {
		t.Fatalf("version transition must require a comment")
	}
	if RequiresComment("0.3", "0.3") {
		t.Fatalf("unchanged version must not require a comment")
	}
}
