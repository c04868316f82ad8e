// Package ops implements the operation-string codec: parsing a compact
// comma-separated transform description into a typed Spec, and rendering
// the canonical string form used as the cache key.
//
// The grammar is deliberately lenient toward end users: unknown keys are
// ignored and malformed values are dropped, never rejected. Canonical
// output is strict — fields always appear in the fixed order f,q,w,h,mw,mh
// so that semantically equal specs produce byte-identical strings.
package ops

import (
	"fmt"
	"strconv"
	"strings"
)

// Format is a target image format. FormatOriginal means "keep the source
// format"; it is also the zero-operation sentinel.
type Format string

const (
	FormatOriginal Format = "original"
	FormatJPEG     Format = "jpeg"
	FormatPNG      Format = "png"
	FormatWebP     Format = "webp"
	FormatAVIF     Format = "avif"
	FormatGIF      Format = "gif"
)

// OriginalToken is the bare sentinel meaning "serve unmodified". It is a
// valid, cacheable operation string of its own.
const OriginalToken = "original"

// fieldSeparator joins fields in the canonical path form. The query form
// produced by Spec.Query uses "&" instead.
const fieldSeparator = ","

// ParseFormat validates a format value against the closed allow-list.
// Matching is case-insensitive. "auto" is not accepted here: content
// negotiation happens at the edge, which is the only place with access to
// the Accept header.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(s)) {
	case FormatOriginal:
		return FormatOriginal, true
	case FormatJPEG:
		return FormatJPEG, true
	case FormatPNG:
		return FormatPNG, true
	case FormatWebP:
		return FormatWebP, true
	case FormatAVIF:
		return FormatAVIF, true
	case FormatGIF:
		return FormatGIF, true
	}
	return "", false
}

// Lossless reports whether f is a lossless encoding, meaning quality has
// no effect and is stripped from the canonical form.
func Lossless(f Format) bool {
	return f == FormatPNG || f == FormatGIF
}

// ParseDimension validates a width/height value: a positive integer.
// Anything else is dropped by the caller.
func ParseDimension(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ParseQuality validates a quality value, clamping it into [1,100].
// Non-numeric values are dropped.
func ParseQuality(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if n < 1 {
		n = 1
	}
	if n > 100 {
		n = 100
	}
	return n, true
}

// Spec is an ordered, validated set of transform directives. The zero
// value means "no transform". Construct specs through Parse, never ad hoc.
type Spec struct {
	Format    Format
	Quality   int
	Width     int
	Height    int
	MaxWidth  int
	MaxHeight int

	// Original short-circuits all dimension and format logic: serve the
	// source bytes unmodified.
	Original bool
}

// Parse decodes an operation string into a Spec. Unknown keys are ignored
// for forward compatibility; invalid values are dropped silently. The only
// parse error is an empty input.
func Parse(s string) (Spec, error) {
	if s == "" {
		return Spec{}, fmt.Errorf("empty operation string")
	}

	var sp Spec
	for _, field := range strings.Split(s, fieldSeparator) {
		if field == OriginalToken {
			sp.Original = true
			continue
		}
		k, v, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		switch k {
		case "f":
			if f, ok := ParseFormat(v); ok {
				sp.Format = f
			}
		case "q":
			if q, ok := ParseQuality(v); ok {
				sp.Quality = q
			}
		case "w":
			if n, ok := ParseDimension(v); ok {
				sp.Width = n
			}
		case "h":
			if n, ok := ParseDimension(v); ok {
				sp.Height = n
			}
		case "mw":
			if n, ok := ParseDimension(v); ok {
				sp.MaxWidth = n
			}
		case "mh":
			if n, ok := ParseDimension(v); ok {
				sp.MaxHeight = n
			}
		}
	}
	return sp.Normalize(), nil
}

// Normalize resolves field precedence so that semantically equal specs
// compare equal: exact dimensions win over max-bounds, quality is cleared
// for lossless (or unchanged-format) targets, and the original sentinel
// clears everything else.
func (sp Spec) Normalize() Spec {
	if sp.Original {
		return Spec{Original: true}
	}
	if sp.Width > 0 || sp.Height > 0 {
		sp.MaxWidth, sp.MaxHeight = 0, 0
	}
	if sp.Format == FormatOriginal {
		sp.Format = ""
	}
	if sp.Format == "" || Lossless(sp.Format) {
		sp.Quality = 0
	}
	if sp == (Spec{}) {
		sp.Original = true
	}
	return sp
}

// IsNoop reports whether the spec requests no transformation at all.
func (sp Spec) IsNoop() bool {
	return sp.Normalize().Original
}

// Canonical renders the deterministic path form of the spec. The output
// depends only on the normalized field values, never on input order.
func (sp Spec) Canonical() string {
	return sp.encode(fieldSeparator)
}

// Query renders the spec as an &-joined query string, used when the
// oversize policy redirects back through the edge normalizer.
func (sp Spec) Query() string {
	return sp.encode("&")
}

func (sp Spec) encode(sep string) string {
	sp = sp.Normalize()
	if sp.Original {
		return OriginalToken
	}

	fields := make([]string, 0, 6)
	if sp.Format != "" {
		fields = append(fields, "f="+string(sp.Format))
	}
	if sp.Quality > 0 {
		fields = append(fields, "q="+strconv.Itoa(sp.Quality))
	}
	if sp.Width > 0 {
		fields = append(fields, "w="+strconv.Itoa(sp.Width))
	}
	if sp.Height > 0 {
		fields = append(fields, "h="+strconv.Itoa(sp.Height))
	}
	if sp.MaxWidth > 0 {
		fields = append(fields, "mw="+strconv.Itoa(sp.MaxWidth))
	}
	if sp.MaxHeight > 0 {
		fields = append(fields, "mh="+strconv.Itoa(sp.MaxHeight))
	}
	return strings.Join(fields, sep)
}

// DerivedKey maps an original storage key and a spec to the storage key of
// the derived artifact. The mapping is pure and injective: the canonical
// string never contains "/" ambiguity because it is appended as a single
// trailing segment.
func DerivedKey(originalKey string, sp Spec) string {
	return originalKey + "/" + sp.Canonical()
}
