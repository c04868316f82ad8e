// Package edge implements the viewer-request normalizer that runs in front
// of the CDN cache. It rewrites arbitrary query strings into the canonical
// operation path segment so that two requests differing only in parameter
// order, casing, or junk parameters share one cache entry.
//
// Everything here is synchronous and side-effect-free: it runs on every
// request, including cache hits, and must never touch the network.
package edge

import (
	"net/url"
	"strings"

	"github.com/fpang/image-delivery/internal/ops"
)

// autoFormat is the query value requesting content negotiation. It is
// resolved here, against the Accept header, because the downstream codec
// has no access to request headers.
const autoFormat = "auto"

// Normalize converts a raw query string plus the request's Accept header
// into the canonical operation segment (without leading slash). Invalid or
// unrecognized parameters are dropped, mirroring the codec's leniency. If
// nothing survives, the "original" sentinel is returned so the result is
// always a valid, cacheable operation string.
func Normalize(rawQuery, accept string) string {
	// ParseQuery returns the pairs it managed to decode even on error;
	// malformed remainder is dropped, consistent with field leniency.
	raw, _ := url.ParseQuery(rawQuery)

	// Keys fold to lowercase so W=400 and w=400 land on one cache entry,
	// the same leniency the codec applies to format values.
	values := make(url.Values, len(raw))
	for k, vs := range raw {
		lk := strings.ToLower(k)
		values[lk] = append(values[lk], vs...)
	}

	var sp ops.Spec
	if _, found := values[ops.OriginalToken]; found {
		sp.Original = true
		return sp.Canonical()
	}

	if v := values.Get("f"); v != "" {
		if strings.EqualFold(v, autoFormat) {
			sp.Format = negotiateFormat(accept)
		} else if f, ok := ops.ParseFormat(v); ok {
			sp.Format = f
		}
	}
	if q, ok := ops.ParseQuality(values.Get("q")); ok {
		sp.Quality = q
	}
	if n, ok := ops.ParseDimension(values.Get("w")); ok {
		sp.Width = n
	}
	if n, ok := ops.ParseDimension(values.Get("h")); ok {
		sp.Height = n
	}
	if n, ok := ops.ParseDimension(values.Get("mw")); ok {
		sp.MaxWidth = n
	}
	if n, ok := ops.ParseDimension(values.Get("mh")); ok {
		sp.MaxHeight = n
	}

	return sp.Canonical()
}

// RewritePath appends the normalized operation segment to a resource path.
// The incoming path keeps its leading slash; a trailing slash is collapsed
// so the operation segment is always exactly one segment.
func RewritePath(path, rawQuery, accept string) string {
	return strings.TrimSuffix(path, "/") + "/" + Normalize(rawQuery, accept)
}

// negotiateFormat resolves f=auto: the first of avif, webp advertised in
// the Accept header wins, defaulting to jpeg.
func negotiateFormat(accept string) ops.Format {
	if strings.Contains(accept, "image/avif") {
		return ops.FormatAVIF
	}
	if strings.Contains(accept, "image/webp") {
		return ops.FormatWebP
	}
	return ops.FormatJPEG
}
