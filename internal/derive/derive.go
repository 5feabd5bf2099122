// Package derive reads image headers and writes resized or re-encoded copies.
package derive

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/catdevman/image-transform/internal/model"
)

// Deriver is safe for concurrent use.
type Deriver struct {
	JPEGQuality int
}

func New(jpegQuality int) *Deriver {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 85
	}
	return &Deriver{JPEGQuality: jpegQuality}
}

// Probe reads dimensions and color layout without decoding pixel data.
func (d *Deriver) Probe(path string) (model.BasicAttributes, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.BasicAttributes{}, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return model.BasicAttributes{}, fmt.Errorf("decode header: %w", err)
	}

	space, channels, alpha := describeModel(cfg.ColorModel)
	return model.BasicAttributes{
		Format:     format,
		Width:      cfg.Width,
		Height:     cfg.Height,
		ColorSpace: space,
		Channels:   channels,
		HasAlpha:   alpha,
	}, nil
}

func describeModel(m color.Model) (space string, channels int, alpha bool) {
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return "Palette", 4, true
			}
		}
		return "Palette", 3, false
	}

	switch m {
	case color.YCbCrModel:
		return "YCbCr", 3, false
	case color.NYCbCrAModel:
		return "YCbCr", 4, true
	case color.GrayModel, color.Gray16Model:
		return "Gray", 1, false
	case color.CMYKModel:
		return "CMYK", 4, false
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return "RGB", 4, true
	}
	return "Unknown", 0, false
}

// ResizeBounded writes a copy of src scaled to fit within maxW x maxH,
// keeping the aspect ratio and never enlarging. The output format follows
// the extension of dst.
func (d *Deriver) ResizeBounded(src, dst string, maxW, maxH int) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	thumb := resize.Thumbnail(uint(maxW), uint(maxH), img, resize.Lanczos3)
	if err := imaging.Save(thumb, dst, imaging.JPEGQuality(d.JPEGQuality)); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}

// Reformat re-encodes src as format into dst. Transparent pixels are
// flattened onto white for formats without an alpha channel.
func (d *Deriver) Reformat(src, dst string, format imaging.Format) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	if format == imaging.JPEG || format == imaging.BMP {
		b := img.Bounds()
		bg := imaging.New(b.Dx(), b.Dy(), color.White)
		img = imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(d.JPEGQuality)); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return f.Close()
}

// ParseFormat maps a name such as "jpeg" or "png" to an imaging.Format.
func ParseFormat(name string) (imaging.Format, error) {
	return imaging.FormatFromExtension(name)
}

// Extension returns the canonical file extension for format, with the dot.
func Extension(format imaging.Format) string {
	switch format {
	case imaging.JPEG:
		return ".jpg"
	case imaging.PNG:
		return ".png"
	case imaging.GIF:
		return ".gif"
	case imaging.TIFF:
		return ".tif"
	case imaging.BMP:
		return ".bmp"
	}
	return ""
}
