package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// Exif decodes EXIF in-process with goexif. It holds no external resources,
// so Shutdown does nothing. Files without an EXIF segment (PNG, GIF,
// stripped JPEG) yield an empty map.
type Exif struct{}

func (Exif) Read(ctx context.Context, path string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Decode returns a usable *Exif alongside non-critical tag errors.
	x, err := exif.Decode(f)
	if x == nil {
		if noExifSegment(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("decode exif: %w", err)
	}

	w := tagWalker{}
	if err := x.Walk(w); err != nil {
		return nil, fmt.Errorf("walk exif: %w", err)
	}

	out := map[string]any{"EXIF": map[string]any(w)}

	summary := map[string]any{}
	if lat, long, err := x.LatLong(); err == nil {
		summary["GPS"] = map[string]any{"latitude": lat, "longitude": long}
	}
	if tm, err := x.DateTime(); err == nil {
		summary["DateTime"] = tm
	}
	if len(summary) > 0 {
		out["Summary"] = summary
	}
	return out, nil
}

func (Exif) Shutdown() error { return nil }

// noExifSegment reports whether a Decode error only means the file carries
// no EXIF block: the scan for an APP1 marker ran off the end, or the APP1
// section holds something else (XMP). goexif exports no sentinel for either.
func noExifSegment(err error) bool {
	return errors.Is(err, io.EOF) ||
		strings.Contains(err.Error(), "failed to find exif intro marker")
}

type tagWalker map[string]any

func (w tagWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	w[string(name)] = tagValue(tag)
	return nil
}

// tagValue unpacks a tag into Go values. Multi-valued tags become slices;
// rationals become *big.Rat; anything undecodable stays as raw bytes.
func tagValue(tag *tiff.Tag) any {
	n := int(tag.Count)

	switch tag.Format() {
	case tiff.StringVal:
		if s, err := tag.StringVal(); err == nil {
			return strings.TrimRight(s, "\x00")
		}
	case tiff.IntVal:
		vals := make([]int64, 0, n)
		for i := 0; i < n; i++ {
			v, err := tag.Int64(i)
			if err != nil {
				break
			}
			vals = append(vals, v)
		}
		if len(vals) == n {
			return single(vals)
		}
	case tiff.RatVal:
		vals := make([]any, 0, n)
		for i := 0; i < n; i++ {
			num, den, err := tag.Rat2(i)
			if err != nil {
				break
			}
			if den == 0 {
				vals = append(vals, fmt.Sprintf("%d/0", num))
				continue
			}
			vals = append(vals, big.NewRat(num, den))
		}
		if len(vals) == n {
			return single(vals)
		}
	case tiff.FloatVal:
		vals := make([]float64, 0, n)
		for i := 0; i < n; i++ {
			v, err := tag.Float(i)
			if err != nil {
				break
			}
			vals = append(vals, v)
		}
		if len(vals) == n {
			return single(vals)
		}
	}
	return tag.Val
}

func single[T any](vals []T) any {
	if len(vals) == 1 {
		return vals[0]
	}
	return vals
}
