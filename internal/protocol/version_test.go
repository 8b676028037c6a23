package protocol

import "testing"

func TestNegotiateCommutative(t *testing.T) {
	cases := [][2][]string{
		{{"2025-06-18", "2024-11-05"}, {"2024-11-05", "2023-01-01"}},
		{{"2025-03-26"}, {"2025-03-26", "2025-06-18"}},
		{{"2025-06-18"}, {"2024-11-05"}},
		{{"2099-01-01", "2025-06-18"}, {"2099-01-01"}},
	}
	for _, c := range cases {
		a, b := c[0], c[1]
		gotAB, okAB := Negotiate(a, b)
		gotBA, okBA := Negotiate(b, a)
		if okAB != okBA || gotAB != gotBA {
			t.Fatalf("Negotiate not commutative for %v, %v: (%q,%v) vs (%q,%v)", a, b, gotAB, okAB, gotBA, okBA)
		}
	}
}

func TestNegotiateEmptyIntersection(t *testing.T) {
	_, ok := Negotiate([]string{"2024-11-05"}, []string{"2025-06-18"})
	if ok {
		t.Fatal("expected no common version")
	}
}

func TestNegotiatePrefersNewest(t *testing.T) {
	got, ok := Negotiate(SupportedVersions, []string{"2024-11-05", "2025-03-26"})
	if !ok {
		t.Fatal("expected a negotiated version")
	}
	if got != "2025-03-26" {
		t.Fatalf("expected newest common version 2025-03-26, got %q", got)
	}
}
