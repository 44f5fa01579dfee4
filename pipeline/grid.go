package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// lumGrid is a downsampled luminance map of an image. All deterministic
// classifiers work on this grid, never on the full resolution pixels.
type lumGrid struct {
	size int
	rows [][]float64
}

func decodeLumGrid(imageBytes []byte, size int) (*lumGrid, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return gridFromImage(img, size), nil
}

func gridFromImage(img image.Image, size int) *lumGrid {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return &lumGrid{size: size, rows: make([][]float64, 0)}
	}

	rows := make([][]float64, size)
	for gy := 0; gy < size; gy++ {
		rows[gy] = make([]float64, size)
		for gx := 0; gx < size; gx++ {
			// average the source block mapped to this cell
			x0 := bounds.Min.X + gx*width/size
			x1 := bounds.Min.X + (gx+1)*width/size
			y0 := bounds.Min.Y + gy*height/size
			y1 := bounds.Min.Y + (gy+1)*height/size
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if y1 <= y0 {
				y1 = y0 + 1
			}
			var sum float64
			var count int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					sum += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
					count++
				}
			}
			rows[gy][gx] = sum / float64(count)
		}
	}
	return &lumGrid{size: size, rows: rows}
}

// rowMean is the mean luminance of grid row y.
func (g *lumGrid) rowMean(y int) float64 {
	var sum float64
	for _, v := range g.rows[y] {
		sum += v
	}
	return sum / float64(len(g.rows[y]))
}

// backgroundLevel samples the top and bottom margin rows; the median of those
// row means approximates the backdrop brightness.
func (g *lumGrid) backgroundLevel() float64 {
	margin := g.size / 16
	if margin < 1 {
		margin = 1
	}
	var sum float64
	var count int
	for y := 0; y < margin; y++ {
		sum += g.rowMean(y)
		count++
	}
	for y := g.size - margin; y < g.size; y++ {
		sum += g.rowMean(y)
		count++
	}
	return sum / float64(count)
}

// rowDeviation is how far row y deviates from the background level, averaged
// over cells so a narrow garment still registers.
func (g *lumGrid) rowDeviation(y int, background float64) float64 {
	var sum float64
	for _, v := range g.rows[y] {
		sum += math.Abs(v - background)
	}
	return sum / float64(len(g.rows[y]))
}

// rowEdgeStrength sums vertical luminance deltas between row y and y-1.
func (g *lumGrid) rowEdgeStrength(y int) float64 {
	if y <= 0 || y >= g.size {
		return 0
	}
	var sum float64
	for x := 0; x < g.size; x++ {
		sum += math.Abs(g.rows[y][x] - g.rows[y-1][x])
	}
	return sum
}

func clampFloat(v, low, high float64) float64 {
	return math.Min(math.Max(v, low), high)
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
