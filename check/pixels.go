package check

import (
	"context"
	"image"
	"strings"

	"github.com/pkg/errors"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/match"
)

// verifyPixelsHidden reads the text left in the check's region and fails while the expected text
// can still be read there. Without a recognizer, or without a native frame to read from, the
// result stays pending for manual review.
func verifyPixelsHidden(ctx context.Context, env Env, s Subject, c deidaudit.Check, value string) (outcome, error) {
	if env.OCR == nil || s.Record.Pixels == nil {
		return outcome{fileValue: &value}, nil
	}

	expected, err := expectedText(c)
	if err != nil {
		return outcome{}, err
	}
	img, err := Grayscale(s.Record.Pixels)
	if err != nil {
		return outcome{}, err
	}
	box, err := Region(c.TopLeft, c.BottomRight, img.Bounds())
	if err != nil {
		return outcome{}, err
	}

	text, err := env.OCR.Recognize(ctx, img, box)
	if err != nil {
		return outcome{}, errors.Wrap(err, "text recognition failed")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		empty := deidaudit.EmptyValue
		return boolean(true, &empty), nil
	}

	fileValue := deidaudit.Wrap(text)
	passed, score := match.Match(text, expected, match.Remove)
	return decided(passed, score, &fileValue), nil
}

// Grayscale stretches a frame's intensities to the full 8 bit range.
func Grayscale(f *deidaudit.PixelFrame) (*image.Gray, error) {
	if f.Rows <= 0 || f.Cols <= 0 || len(f.Samples) != f.Rows*f.Cols {
		return nil, errors.Errorf("frame of %dx%d has %d samples", f.Cols, f.Rows, len(f.Samples))
	}

	lo, hi := f.Samples[0], f.Samples[0]
	for _, v := range f.Samples {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	img := image.NewGray(image.Rect(0, 0, f.Cols, f.Rows))
	span := hi - lo
	if span == 0 {
		return img, nil
	}
	for i, v := range f.Samples {
		img.Pix[i] = uint8((v - lo) * 255 / span)
	}
	return img, nil
}

// Region builds the box between two [x, y] corners, clipped to bounds.
func Region(topLeft, bottomRight []int, bounds image.Rectangle) (image.Rectangle, error) {
	if len(topLeft) < 2 || len(bottomRight) < 2 {
		return image.Rectangle{}, errors.New("check has no pixel region")
	}
	box := image.Rect(topLeft[0], topLeft[1], bottomRight[0], bottomRight[1]).Intersect(bounds)
	if box.Empty() {
		return image.Rectangle{}, errors.Errorf("pixel region %v-%v is outside the image", topLeft, bottomRight)
	}
	return box, nil
}
