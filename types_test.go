package assets

import "testing"

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain word", "vase", "vase"},
		{"korean preserved", "백자", "백자"},
		{"digits and underscore preserved", "item_42", "item_42"},
		{"spaces collapse", "moon jar  scan", "moon_jar_scan"},
		{"path separators collapse", "relics/2024/jar", "relics_2024_jar"},
		{"punctuation run collapses to one", "a-+!b", "a_b"},
		{"dots collapse", "scan.v2.final", "scan_v2_final"},
		{"empty stays empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeIdentifier(tt.in); got != tt.want {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdentifierCollision(t *testing.T) {
	// Distinct identifiers may share a sanitized name; the mapping is
	// documented as non-injective.
	a := SanitizeIdentifier("moon jar")
	b := SanitizeIdentifier("moon/jar")
	if a != b {
		t.Errorf("expected identical sanitized names, got %q and %q", a, b)
	}
}

func TestSanitizeIdentifierDeterministic(t *testing.T) {
	in := "celadon vase #7 (front)"
	first := SanitizeIdentifier(in)
	for i := 0; i < 3; i++ {
		if got := SanitizeIdentifier(in); got != first {
			t.Fatalf("SanitizeIdentifier not deterministic: %q then %q", first, got)
		}
	}
}
