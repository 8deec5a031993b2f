// Package vision holds the frame preprocessing shared by the visual detector
// modalities: tensor conversion for ONNX models and cheap pixel statistics
// for the heuristic fallbacks.
package vision

import (
	"image"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"
)

// TensorNCHW resizes img to size×size with bilinear interpolation and returns
// a [1,3,size,size] NCHW float32 tensor with channel values scaled to [0,1].
func TensorNCHW(img image.Image, size int) []float32 {
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Over, nil)

	n := size * size
	out := make([]float32, 3*n)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := scaled.PixOffset(x, y)
			p := y*size + x
			out[p] = float32(scaled.Pix[i]) / 255       // R plane
			out[n+p] = float32(scaled.Pix[i+1]) / 255   // G plane
			out[2*n+p] = float32(scaled.Pix[i+2]) / 255 // B plane
		}
	}
	return out
}

// TensorGray resizes img to size×size and returns a [1,1,size,size] grayscale
// tensor (Rec. 601 luma, scaled to [0,1]).
func TensorGray(img image.Image, size int) []float32 {
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Over, nil)

	out := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := scaled.PixOffset(x, y)
			r := float32(scaled.Pix[i])
			g := float32(scaled.Pix[i+1])
			b := float32(scaled.Pix[i+2])
			out[y*size+x] = (0.299*r + 0.587*g + 0.114*b) / 255
		}
	}
	return out
}

// Region selects a sub-rectangle of a frame expressed as fractions of its
// bounds, e.g. Region(img, 0, 0.25, 1, 0.3) is a horizontal band starting a
// quarter of the way down.
func Region(img image.Image, fx, fy, fw, fh float64) image.Rectangle {
	b := img.Bounds()
	w := float64(b.Dx())
	h := float64(b.Dy())
	return image.Rect(
		b.Min.X+int(fx*w),
		b.Min.Y+int(fy*h),
		b.Min.X+int((fx+fw)*w),
		b.Min.Y+int((fy+fh)*h),
	)
}

// Stats summarises the pixels of one region of a frame.
type Stats struct {
	// MeanLuma is the average Rec. 601 luma in [0,1].
	MeanLuma float64

	// LumaVariance is the variance of the luma samples. Near-zero variance
	// means a blank or covered camera.
	LumaVariance float64

	// SkinRatio is the fraction of sampled pixels matching a simple RGB
	// skin-tone rule.
	SkinRatio float64

	// Samples is the number of pixels actually sampled.
	Samples int
}

// sampleTarget bounds the per-frame work: at most ~64² pixels are sampled
// per region regardless of resolution.
const sampleTarget = 64

// Analyze computes [Stats] over the given region of img. An empty or
// degenerate region yields zero stats.
func Analyze(img image.Image, region image.Rectangle) Stats {
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return Stats{}
	}

	strideX := max(1, region.Dx()/sampleTarget)
	strideY := max(1, region.Dy()/sampleTarget)

	var (
		lumas []float64
		skin  int
	)
	for y := region.Min.Y; y < region.Max.Y; y += strideY {
		for x := region.Min.X; x < region.Max.X; x += strideX {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r := float64(r16 >> 8)
			g := float64(g16 >> 8)
			b := float64(b16 >> 8)
			lumas = append(lumas, (0.299*r+0.587*g+0.114*b)/255)
			if isSkin(r, g, b) {
				skin++
			}
		}
	}
	if len(lumas) == 0 {
		return Stats{}
	}

	mean := stat.Mean(lumas, nil)
	variance := stat.Variance(lumas, nil)
	return Stats{
		MeanLuma:     mean,
		LumaVariance: variance,
		SkinRatio:    float64(skin) / float64(len(lumas)),
		Samples:      len(lumas),
	}
}

// isSkin is the classic RGB skin-tone rule: red dominant over green and
// blue, with enough overall brightness and r-g spread.
func isSkin(r, g, b float64) bool {
	maxc := max(r, max(g, b))
	minc := min(r, min(g, b))
	return r > 95 && g > 40 && b > 20 &&
		maxc-minc > 15 &&
		r-g > 15 && r > b
}
