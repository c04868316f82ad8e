// Package transform applies a parsed operation spec to original image
// bytes: decode, orientation correction, downscale-only resize, and
// re-encode. It performs no I/O beyond an optional ffmpeg invocation for
// AVIF output and is pure given its inputs, so callers may retry freely.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"

	"github.com/chai2010/webp"
	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/fpang/image-delivery/internal/ops"
)

// Stage identifies which half of the pipeline a transform failure belongs
// to: reading the input or producing the output.
type Stage string

const (
	StageDecode Stage = "decode"
	StageEncode Stage = "encode"
)

// Error is the single transform failure kind. Decode failures (corrupt or
// unsupported input) and encode failures (unsupported target configuration)
// are distinguished by Stage, never swallowed.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultQuality is used for lossy encodes when the spec carries no
// explicit quality.
const DefaultQuality = 80

// Transformer executes operation specs against image bytes. FFmpegPath is
// resolved once at construction; AVIF encoding requires it.
type Transformer struct {
	FFmpegPath string
}

// New returns a Transformer, probing PATH for ffmpeg. A missing ffmpeg is
// not an error until an AVIF encode is actually requested.
func New() *Transformer {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		log.Warn().Msg("ffmpeg not found — AVIF output disabled")
	}
	return &Transformer{FFmpegPath: path}
}

var contentTypes = map[ops.Format]string{
	ops.FormatJPEG: "image/jpeg",
	ops.FormatPNG:  "image/png",
	ops.FormatWebP: "image/webp",
	ops.FormatAVIF: "image/avif",
	ops.FormatGIF:  "image/gif",
}

// ContentType maps a format to its MIME type.
func ContentType(f ops.Format) string {
	return contentTypes[f]
}

// Execute applies sp to the original bytes and returns the transformed
// bytes plus the resolved content type.
//
// Order matters: decode and metadata probe first, then resize target
// computation (never upscaling past intrinsic dimensions), then
// orientation correction (always, even without a resize), then re-encode
// only when the target format differs from the source. Quality applies
// only to lossy targets; on lossless targets it is a no-op, not an error.
func (t *Transformer) Execute(ctx context.Context, original []byte, sp ops.Spec) ([]byte, string, error) {
	sp = sp.Normalize()

	srcFormat, animated, err := probe(original)
	if err != nil {
		return nil, "", &Error{Stage: StageDecode, Err: err}
	}
	srcType := ContentType(srcFormat)

	target := sp.Format
	if target == "" {
		target = srcFormat
	}

	if sp.Original {
		return original, srcType, nil
	}

	// Animated GIFs pass through unresized: the codec cannot resize
	// frame-by-frame, and converting animation to a still format would
	// silently discard content.
	if animated {
		if target != ops.FormatGIF {
			return nil, "", &Error{Stage: StageEncode, Err: fmt.Errorf("cannot convert animated gif to %s", target)}
		}
		return original, srcType, nil
	}

	img, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		return nil, "", &Error{Stage: StageDecode, Err: err}
	}

	orientation := readOrientation(original)
	if orientation > 1 {
		img = reorient(img, orientation)
	}

	bounds := img.Bounds()
	tw, th := ResizeTarget(bounds.Dx(), bounds.Dy(), sp)
	resized := tw > 0
	if resized {
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	// Nothing to do: no resize, no orientation fix, and no explicit
	// format request. Serve the source bytes verbatim so repeated
	// execution stays byte-identical.
	if !resized && orientation <= 1 && sp.Format == "" {
		return original, srcType, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, "", &Error{Stage: StageEncode, Err: err}
	}

	body, err := t.encode(img, target, sp.Quality)
	if err != nil {
		return nil, "", &Error{Stage: StageEncode, Err: err}
	}

	log.Debug().
		Str("source_format", string(srcFormat)).
		Str("target_format", string(target)).
		Int("orientation", orientation).
		Int("width", tw).
		Int("height", th).
		Int("output_size", len(body)).
		Msg("Transform complete")

	return body, ContentType(target), nil
}

// probe sniffs the source format and the animation flag without a full
// pixel decode.
func probe(data []byte) (ops.Format, bool, error) {
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", false, fmt.Errorf("unsupported or corrupt image: %w", err)
	}
	f, ok := ops.ParseFormat(name)
	if !ok {
		return "", false, fmt.Errorf("unsupported source format %q", name)
	}
	if f == ops.FormatGIF {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return "", false, fmt.Errorf("decode gif: %w", err)
		}
		return f, len(g.Image) > 1, nil
	}
	return f, false, nil
}

// readOrientation extracts the EXIF orientation tag, returning 1 (upright)
// when metadata is absent or unreadable. Metadata errors are expected for
// formats without EXIF and are not failures.
func readOrientation(data []byte) int {
	meta, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	o := int(meta.Orientation)
	if o < 1 || o > 8 {
		return 1
	}
	return o
}

// ResizeTarget computes the concrete output dimensions for an image of
// intrinsic size (iw, ih). A (0, 0) result means no resize is needed.
//
// Exact mode (Width/Height) clamps each requested axis to the intrinsic
// size and derives an unset axis from the aspect ratio. Max-bound mode
// (MaxWidth/MaxHeight) fits inside the bounds preserving aspect ratio.
// Neither mode ever upscales. A derived axis is never smaller than one
// pixel: integer truncation on extreme aspect ratios must not collapse
// the output to a zero dimension.
func ResizeTarget(iw, ih int, sp ops.Spec) (int, int) {
	sp = sp.Normalize()
	if sp.Original || iw <= 0 || ih <= 0 {
		return 0, 0
	}

	if sp.Width > 0 || sp.Height > 0 {
		tw, th := sp.Width, sp.Height
		if tw > iw {
			tw = iw
		}
		if th > ih {
			th = ih
		}
		switch {
		case tw == 0:
			tw = max(1, iw*th/ih)
		case th == 0:
			th = max(1, ih*tw/iw)
		}
		if tw == iw && th == ih {
			return 0, 0
		}
		return tw, th
	}

	if sp.MaxWidth > 0 || sp.MaxHeight > 0 {
		bw, bh := sp.MaxWidth, sp.MaxHeight
		if bw == 0 || bw > iw {
			bw = iw
		}
		if bh == 0 || bh > ih {
			bh = ih
		}
		// Inside fit: the tighter axis wins.
		tw, th := bw, max(1, ih*bw/iw)
		if th > bh {
			tw, th = max(1, iw*bh/ih), bh
		}
		if tw >= iw && th >= ih {
			return 0, 0
		}
		return tw, th
	}

	return 0, 0
}

func (t *Transformer) encode(img image.Image, target ops.Format, quality int) ([]byte, error) {
	if quality == 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	switch target {
	case ops.FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case ops.FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case ops.FormatGIF:
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	case ops.FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	case ops.FormatAVIF:
		return t.encodeAVIF(img, quality)
	default:
		return nil, fmt.Errorf("unsupported target format %q", target)
	}
	return buf.Bytes(), nil
}

// encodeAVIF shells out to ffmpeg, the same approach used for formats the
// Go image ecosystem cannot encode natively. The frame is handed over as
// PNG to avoid a double lossy step.
func (t *Transformer) encodeAVIF(img image.Image, quality int) ([]byte, error) {
	if t.FFmpegPath == "" {
		return nil, fmt.Errorf("avif output requires ffmpeg")
	}

	in, err := os.CreateTemp("", "avif-in-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(in.Name())
	if err := png.Encode(in, img); err != nil {
		in.Close()
		return nil, fmt.Errorf("write intermediate png: %w", err)
	}
	in.Close()

	out, err := os.CreateTemp("", "avif-out-*.avif")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	// ffmpeg's crf scale runs 0 (best) to 63; map quality 1-100 onto it.
	crf := 63 - (quality*63)/100
	cmd := exec.Command(t.FFmpegPath,
		"-i", in.Name(),
		"-c:v", "libaom-av1",
		"-still-picture", "1",
		"-crf", fmt.Sprintf("%d", crf),
		"-y", outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg avif encode failed: %w: %s", err, string(output))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read avif output: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ffmpeg produced empty avif output")
	}
	return data, nil
}

// reorient maps pixels according to the EXIF orientation tag (values 2-8).
func reorient(img image.Image, orientation int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	if orientation >= 5 {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch orientation {
			case 2: // mirror horizontal
				dst.Set(w-1-x, y, c)
			case 3: // rotate 180
				dst.Set(w-1-x, h-1-y, c)
			case 4: // mirror vertical
				dst.Set(x, h-1-y, c)
			case 5: // mirror horizontal + rotate 270 CW
				dst.Set(y, x, c)
			case 6: // rotate 90 CW
				dst.Set(h-1-y, x, c)
			case 7: // mirror horizontal + rotate 90 CW
				dst.Set(h-1-y, w-1-x, c)
			case 8: // rotate 270 CW
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}
