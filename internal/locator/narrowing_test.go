package locator

import "testing"

func TestHexPrefixNarrowingWalksAllValues(t *testing.T) {
	n := HexPrefixNarrowing{Width: 1}
	key := n.Initial()
	if key != "0" {
		t.Fatalf("Initial() = %q, want \"0\"", key)
	}

	seen := map[string]bool{key: true}
	terminal := false
	for i := 0; i < 20 && !terminal; i++ {
		key, terminal = n.Advance(key)
		seen[key] = true
	}
	if !terminal {
		t.Fatal("expected narrowing to terminate within 16 advances for width 1")
	}
	for _, d := range "0123456789abcdef" {
		if !seen[string(d)] {
			t.Fatalf("narrowing never visited digit %q", d)
		}
	}
}

func TestNoNarrowingTerminatesImmediately(t *testing.T) {
	n := NoNarrowing{}
	if n.Initial() != "" {
		t.Fatalf("Initial() = %q, want empty", n.Initial())
	}
	_, terminal := n.Advance("")
	if !terminal {
		t.Fatal("NoNarrowing.Advance should always report terminal")
	}
}
