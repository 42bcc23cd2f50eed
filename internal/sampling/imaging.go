package sampling

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
)

var errSizeMismatch = errors.New("frame sizes differ")

// grayThumbnail downsizes img into a w x h single-channel raster.
func grayThumbnail(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// changedPercent returns the share of pixels, in percent, whose intensity
// differs by more than delta between a and b.
func changedPercent(a, b *image.Gray, delta uint8) (float64, error) {
	if a.Bounds() != b.Bounds() || len(a.Pix) != len(b.Pix) {
		return 0, errSizeMismatch
	}
	if len(a.Pix) == 0 {
		return 0, nil
	}
	changed := 0
	for i, av := range a.Pix {
		d := int(av) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		if d > int(delta) {
			changed++
		}
	}
	return float64(changed) * 100 / float64(len(a.Pix)), nil
}
