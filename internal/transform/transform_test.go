package transform

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"testing"

	xwebp "golang.org/x/image/webp"

	"github.com/fpang/image-delivery/internal/ops"
)

// testJPEG encodes a solid-color JPEG of the given size.
func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func testAnimatedGIF(t *testing.T) []byte {
	t.Helper()
	frame := func(c uint8) *image.Paletted {
		p := image.NewPaletted(image.Rect(0, 0, 10, 10), []color.Color{
			color.RGBA{R: c, A: 255}, color.RGBA{G: c, A: 255},
		})
		return p
	}
	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, &gif.GIF{
		Image: []*image.Paletted{frame(100), frame(200)},
		Delay: []int{10, 10},
	})
	if err != nil {
		t.Fatalf("encode test gif: %v", err)
	}
	return buf.Bytes()
}

func mustSpec(t *testing.T, s string) ops.Spec {
	t.Helper()
	sp, err := ops.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return sp
}

func TestExecuteResizeToWebP(t *testing.T) {
	tr := &Transformer{}
	original := testJPEG(t, 800, 600)

	body, contentType, err := tr.Execute(context.Background(), original, mustSpec(t, "f=webp,w=400"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if contentType != "image/webp" {
		t.Errorf("contentType = %q, want image/webp", contentType)
	}

	img, err := xwebp.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got := img.Bounds().Dx(); got != 400 {
		t.Errorf("output width = %d, want 400", got)
	}
	if got := img.Bounds().Dy(); got != 300 {
		t.Errorf("output height = %d, want 300 (aspect preserved)", got)
	}
}

func TestExecuteDeterministic(t *testing.T) {
	tr := &Transformer{}
	original := testJPEG(t, 320, 240)
	sp := mustSpec(t, "f=webp,mw=100")

	first, _, err := tr.Execute(context.Background(), original, sp)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, _, err := tr.Execute(context.Background(), original, sp)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("repeated execution produced different bytes")
	}
}

func TestExecuteNeverUpscales(t *testing.T) {
	tr := &Transformer{}
	original := testJPEG(t, 800, 600)

	// Oversized exact width with no format change: nothing to do, the
	// source bytes pass through untouched.
	body, contentType, err := tr.Execute(context.Background(), original, mustSpec(t, "w=9999"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if contentType != "image/jpeg" {
		t.Errorf("contentType = %q, want image/jpeg", contentType)
	}
	if !bytes.Equal(body, original) {
		t.Error("no-op request should return source bytes verbatim")
	}
}

func TestExecuteOriginalPassthrough(t *testing.T) {
	tr := &Transformer{}
	original := testJPEG(t, 100, 100)

	body, contentType, err := tr.Execute(context.Background(), original, mustSpec(t, "original"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !bytes.Equal(body, original) || contentType != "image/jpeg" {
		t.Error("original sentinel must pass source bytes through")
	}
}

func TestExecuteQualityOnLosslessIsNoop(t *testing.T) {
	tr := &Transformer{}
	original := testJPEG(t, 100, 100)

	// Quality on a PNG target must not error.
	_, contentType, err := tr.Execute(context.Background(), original, mustSpec(t, "f=png,q=10,w=50"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if contentType != "image/png" {
		t.Errorf("contentType = %q, want image/png", contentType)
	}
}

func TestExecuteDecodeError(t *testing.T) {
	tr := &Transformer{}
	_, _, err := tr.Execute(context.Background(), []byte("not an image"), mustSpec(t, "w=100"))

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if terr.Stage != StageDecode {
		t.Errorf("stage = %q, want %q", terr.Stage, StageDecode)
	}
}

func TestExecuteAVIFWithoutFFmpeg(t *testing.T) {
	tr := &Transformer{FFmpegPath: ""}
	_, _, err := tr.Execute(context.Background(), testJPEG(t, 100, 100), mustSpec(t, "f=avif"))

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if terr.Stage != StageEncode {
		t.Errorf("stage = %q, want %q", terr.Stage, StageEncode)
	}
}

func TestExecuteAnimatedGIF(t *testing.T) {
	tr := &Transformer{}
	animated := testAnimatedGIF(t)

	// No format change: the animation passes through untouched.
	body, contentType, err := tr.Execute(context.Background(), animated, mustSpec(t, "mw=5"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if contentType != "image/gif" || !bytes.Equal(body, animated) {
		t.Error("animated gif should pass through unmodified")
	}

	// Converting animation to a still format is an encode failure, not a
	// silent frame drop.
	_, _, err = tr.Execute(context.Background(), animated, mustSpec(t, "f=webp"))
	var terr *Error
	if !errors.As(err, &terr) || terr.Stage != StageEncode {
		t.Fatalf("expected encode-stage error, got %v", err)
	}
}

func TestResizeTarget(t *testing.T) {
	cases := []struct {
		name   string
		ops    string
		tw, th int
	}{
		{"exact width derives height", "w=400", 400, 300},
		{"exact height derives width", "h=300", 400, 300},
		{"exact both clamped", "w=9999,h=9999", 0, 0},
		{"exact width clamped", "w=9999", 0, 0},
		{"max width fits inside", "mw=400", 400, 300},
		{"max bounds tighter axis wins", "mw=1024,mh=100", 133, 100},
		{"max larger than intrinsic", "mw=2000,mh=2000", 0, 0},
		{"no dimensions", "f=webp", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tw, th := ResizeTarget(800, 600, mustSpec(t, tc.ops))
			if tw != tc.tw || th != tc.th {
				t.Errorf("ResizeTarget(800, 600, %q) = (%d, %d), want (%d, %d)",
					tc.ops, tw, th, tc.tw, tc.th)
			}
		})
	}
}

func TestResizeTargetExtremeAspect(t *testing.T) {
	// Integer truncation must never collapse a derived axis to zero.
	if tw, th := ResizeTarget(1000, 10, mustSpec(t, "mw=50")); tw != 50 || th != 1 {
		t.Errorf("ResizeTarget(1000, 10, mw=50) = (%d, %d), want (50, 1)", tw, th)
	}
	if tw, th := ResizeTarget(100, 1000, mustSpec(t, "h=5")); tw != 1 || th != 5 {
		t.Errorf("ResizeTarget(100, 1000, h=5) = (%d, %d), want (1, 5)", tw, th)
	}
}

func TestExecuteExtremeAspectKeepsPixels(t *testing.T) {
	tr := &Transformer{}
	original := testJPEG(t, 1000, 10)

	body, _, err := tr.Execute(context.Background(), original, mustSpec(t, "mw=50"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 1 {
		t.Errorf("output = %dx%d, want 50x1", img.Bounds().Dx(), img.Bounds().Dy())
	}
}
