package lifecycle

import (
	"strings"
	"testing"
)

func TestRefFromID(t *testing.T) {
	t.Parallel()

	ref := RefFromID("6581b1a2c3d4e5f601234567")
	if !strings.HasPrefix(ref, "fok1") {
		t.Fatalf("ref prefix mismatch: %q", ref)
	}
	if ref != RefFromID("6581b1a2c3d4e5f601234567") {
		t.Fatal("ref derivation must be deterministic")
	}
	if ref == RefFromID("6581b1a2c3d4e5f601234568") {
		t.Fatal("distinct ids must not share a ref")
	}
}

func TestNormalizeRef(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"fok1AbCd12", "fok1AbCd12"},
		{"  #fok1AbCd12 ", "fok1AbCd12"},
		{"#fok1AbCd12", "fok1AbCd12"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeRef(tc.in); got != tc.want {
			t.Fatalf("NormalizeRef(%q) mismatch: got=%q want=%q", tc.in, got, tc.want)
		}
	}
}
