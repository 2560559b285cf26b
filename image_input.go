package main

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/cwsl/sstv_encoder/sstv"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Callsign overlay positions
const (
	CallsignTopLeft    = "top-left"
	CallsignBottomLeft = "bottom-left"
)

// ErrImageDecode is returned when an upload is not a readable picture
var ErrImageDecode = errors.New("failed to decode image")

// callsignMargin is the left edge of the overlay text in pixels
const callsignMargin = 10

// FrameOptions controls how an uploaded picture becomes an encoder frame
type FrameOptions struct {
	Callsign         string
	CallsignLocation string
	Resample         string
}

// frameOptions returns the configured overlay settings, with callsign
// replacing the configured one when non-empty
func (ic ImageConfig) frameOptions(callsign string) FrameOptions {
	opts := FrameOptions{
		Callsign:         ic.Callsign,
		CallsignLocation: ic.CallsignLocation,
		Resample:         ic.Resample,
	}
	if strings.TrimSpace(callsign) != "" {
		opts.Callsign = callsign
	}
	return opts
}

// LoadImage decodes a PNG, JPEG, GIF, BMP, TIFF or WebP picture
func LoadImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrImageDecode, err)
	}
	return img, format, nil
}

// resampler maps a configured resampling name onto an x/image interpolator
func resampler(name string) (xdraw.Interpolator, error) {
	switch strings.ToLower(name) {
	case "nearest":
		return xdraw.NearestNeighbor, nil
	case "", "bilinear":
		return xdraw.BiLinear, nil
	case "catmullrom":
		return xdraw.CatmullRom, nil
	}
	return nil, fmt.Errorf("unknown resampler %q (want nearest, bilinear or catmullrom)", name)
}

// PrepareFrame scales img to the mode's resolution, stretching it to fill the
// frame, and draws the callsign overlay. The returned image's Pix is the
// RGBA buffer the encoder consumes; transparent areas come out black.
func PrepareFrame(img image.Image, mode sstv.Mode, opts FrameOptions) (*image.RGBA, error) {
	interp, err := resampler(opts.Resample)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, mode.Width, mode.NumLines))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	if text := strings.TrimSpace(opts.Callsign); text != "" {
		var baseline int
		switch opts.CallsignLocation {
		case CallsignTopLeft, "":
			baseline = 15 * overlayScale(mode)
		case CallsignBottomLeft:
			baseline = mode.NumLines - 6
		default:
			return nil, fmt.Errorf("unknown callsign location %q", opts.CallsignLocation)
		}
		drawCallsign(dst, cases.Upper(language.Und).String(text), baseline, overlayScale(mode))
	}

	return dst, nil
}

// overlayScale is the integer magnification of the 7x13 font: 2 for the
// 320 pixel modes, up to 5 for PD290
func overlayScale(mode sstv.Mode) int {
	return max(1, mode.Width/160)
}

// drawCallsign renders text as black glyphs with a white outline, left
// aligned at callsignMargin with its baseline on row baseline
func drawCallsign(dst *image.RGBA, text string, baseline, scale int) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := metrics.Height.Ceil()
	width := font.MeasureString(face, text).Ceil()
	if width == 0 {
		return
	}

	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	d := font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(text)

	big := image.NewAlpha(image.Rect(0, 0, width*scale, height*scale))
	xdraw.NearestNeighbor.Scale(big, big.Bounds(), mask, mask.Bounds(), xdraw.Src, nil)

	origin := image.Pt(callsignMargin, baseline-ascent*scale)
	area := big.Bounds().Add(origin)

	outline := max(1, scale/2)
	for dy := -outline; dy <= outline; dy++ {
		for dx := -outline; dx <= outline; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			draw.DrawMask(dst, area.Add(image.Pt(dx, dy)), image.White, image.Point{}, big, image.Point{}, draw.Over)
		}
	}
	draw.DrawMask(dst, area, image.Black, image.Point{}, big, image.Point{}, draw.Over)
}
