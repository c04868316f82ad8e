package ops

import "testing"

func mustParse(t *testing.T, s string) Spec {
	t.Helper()
	sp, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return sp
}

func TestParseCanonicalOrder(t *testing.T) {
	// Field order in the input must not matter.
	a := mustParse(t, "w=400,f=webp,q=75")
	b := mustParse(t, "q=75,w=400,f=webp")

	if a.Canonical() != b.Canonical() {
		t.Errorf("canonical forms differ: %q vs %q", a.Canonical(), b.Canonical())
	}
	if got, want := a.Canonical(), "f=webp,q=75,w=400"; got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"f=webp,w=400",
		"w=400,f=WEBP,junk=ignored",
		"q=150,f=jpeg",
		"mw=1024,mh=768",
		"w=200,mw=1024",
		"original",
		"f=png,q=90",
		"h=300",
	}
	for _, s := range inputs {
		once := mustParse(t, s).Canonical()
		twice := mustParse(t, once).Canonical()
		if once != twice {
			t.Errorf("canonicalize not idempotent for %q: %q -> %q", s, once, twice)
		}
	}
}

func TestParseEmptyErrors(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Error("Parse(\"\") should error")
	}
}

func TestUnknownKeysIgnored(t *testing.T) {
	sp := mustParse(t, "w=400,blur=5,crop=smart")
	if got, want := sp.Canonical(), "w=400"; got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestInvalidValuesDropped(t *testing.T) {
	cases := map[string]string{
		"w=abc":          "original", // nothing valid survives
		"w=-5,h=300":     "h=300",
		"w=0,mw=800":     "mw=800",
		"f=tiff,w=100":   "w=100", // format not in allow-list
		"f=AUTO,w=100":   "w=100", // auto is resolved at the edge, not here
		"q=banana,w=100": "w=100",
	}
	for input, want := range cases {
		if got := mustParse(t, input).Canonical(); got != want {
			t.Errorf("Parse(%q).Canonical() = %q, want %q", input, got, want)
		}
	}
}

func TestQualityClamped(t *testing.T) {
	if sp := mustParse(t, "f=jpeg,q=150"); sp.Quality != 100 {
		t.Errorf("q=150 clamped to %d, want 100", sp.Quality)
	}
	if sp := mustParse(t, "f=jpeg,q=0"); sp.Quality != 1 {
		t.Errorf("q=0 clamped to %d, want 1", sp.Quality)
	}
}

func TestQualityStrippedForLossless(t *testing.T) {
	// Two specs identical except for quality, targeting a lossless
	// format, must share one cache key.
	a := mustParse(t, "f=png,w=400,q=10")
	b := mustParse(t, "f=png,w=400,q=90")
	if a.Canonical() != b.Canonical() {
		t.Errorf("lossless quality leaked into canonical: %q vs %q", a.Canonical(), b.Canonical())
	}
	if got, want := a.Canonical(), "f=png,w=400"; got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}

	// Without a format change there is no re-encode, so quality is
	// equally meaningless.
	if got, want := mustParse(t, "q=50,w=400").Canonical(), "w=400"; got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestExactDimensionsWinOverMaxBounds(t *testing.T) {
	sp := mustParse(t, "w=200,mw=1024,mh=768")
	if got, want := sp.Canonical(), "w=200"; got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestOriginalSentinel(t *testing.T) {
	sp := mustParse(t, "original")
	if !sp.Original {
		t.Error("Original flag not set")
	}
	if got := sp.Canonical(); got != OriginalToken {
		t.Errorf("Canonical() = %q, want %q", got, OriginalToken)
	}

	// The sentinel short-circuits everything else.
	sp = mustParse(t, "original,w=400,f=webp")
	if got := sp.Canonical(); got != OriginalToken {
		t.Errorf("Canonical() = %q, want %q", got, OriginalToken)
	}

	// Only unknown keys: degrades to original.
	if got := mustParse(t, "junk=1").Canonical(); got != OriginalToken {
		t.Errorf("Canonical() = %q, want %q", got, OriginalToken)
	}
}

func TestQueryForm(t *testing.T) {
	sp := mustParse(t, "w=400,f=webp")
	if got, want := sp.Query(), "f=webp&w=400"; got != want {
		t.Errorf("Query() = %q, want %q", got, want)
	}
}

func TestDerivedKey(t *testing.T) {
	sp := mustParse(t, "f=webp,w=400")
	if got, want := DerivedKey("sample/1.jpg", sp), "sample/1.jpg/f=webp,w=400"; got != want {
		t.Errorf("DerivedKey = %q, want %q", got, want)
	}

	// Same pair always maps to the same key; distinct specs never collide.
	other := mustParse(t, "f=webp,w=401")
	if DerivedKey("sample/1.jpg", sp) != DerivedKey("sample/1.jpg", mustParse(t, "w=400,f=webp")) {
		t.Error("equal specs produced different keys")
	}
	if DerivedKey("sample/1.jpg", sp) == DerivedKey("sample/1.jpg", other) {
		t.Error("distinct specs collided")
	}
}
