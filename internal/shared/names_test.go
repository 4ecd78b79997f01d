package shared

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Dawnbreaker":      "dawnbreaker",
		"  Dawn   Breaker ": "dawn breaker",
		"ＤＡＷＮ":             "dawn",
		"Straße":           "strasse",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeNameStable(t *testing.T) {
	once := NormalizeName("The Obsidian Vault")
	if NormalizeName(once) != once {
		t.Fatal("normalization must be idempotent")
	}
}
