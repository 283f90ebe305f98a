package attach

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Registered for image.Decode.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

// jpegQualities is tried in order until the encoded image fits the byte
// budget; the last attempt is used regardless.
var jpegQualities = []int{85, 70, 55, 40}

// shrinkImage bounds an image to maxDim on its longest side and re-encodes
// it as JPEG within maxBytes where possible. Images already inside both
// budgets pass through untouched.
func shrinkImage(data []byte, maxDim, maxBytes int) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim && len(data) <= maxBytes {
		return data, "image/" + format, nil
	}

	w, h := bounded(bounds.Dx(), bounds.Dy(), maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	for _, quality := range jpegQualities {
		buf.Reset()
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", fmt.Errorf("encode image: %w", err)
		}
		if buf.Len() <= maxBytes {
			break
		}
	}
	return buf.Bytes(), "image/jpeg", nil
}

// bounded scales (w, h) so the longest side is at most maxDim, preserving
// aspect ratio.
func bounded(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, h * maxDim / w
	}
	return w * maxDim / h, maxDim
}
