package qc

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// HistogramRenderer renders the score distribution of a report as a raster
// histogram, one threshold marker per group.
type HistogramRenderer struct {
	Report *Report
	Width  int
	Height int
	Bins   int
}

// NewHistogramRenderer creates a histogram renderer with default settings.
func NewHistogramRenderer(report *Report) *HistogramRenderer {
	return &HistogramRenderer{
		Report: report,
		Width:  800,
		Height: 480,
		Bins:   40,
	}
}

var (
	histBackground = color.RGBA{255, 255, 255, 255}
	histAxis       = color.RGBA{60, 60, 60, 255}
	histPassBar    = color.RGBA{100, 149, 237, 255} // cornflower blue
	histFailBar    = color.RGBA{255, 99, 71, 255}   // tomato
	histThreshold  = color.RGBA{139, 0, 0, 255}     // dark red
)

const histMargin = 40

// Render draws the histogram image.
func (r *HistogramRenderer) Render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	fill(img, histBackground)

	cells := r.Report.Cells
	if len(cells) == 0 {
		return img
	}

	minScore, maxScore := cells[0].Score, cells[0].Score
	for _, c := range cells {
		minScore = math.Min(minScore, c.Score)
		maxScore = math.Max(maxScore, c.Score)
	}
	for _, g := range r.Report.Groups {
		maxScore = math.Max(maxScore, g.Threshold)
	}
	if maxScore == minScore {
		maxScore = minScore + 1
	}

	// Bin counts, Pass and Fail stacked separately.
	passBins := make([]int, r.Bins)
	failBins := make([]int, r.Bins)
	span := maxScore - minScore
	for _, c := range cells {
		b := int(float64(r.Bins) * (c.Score - minScore) / span)
		if b >= r.Bins {
			b = r.Bins - 1
		}
		if c.QC == QCFail {
			failBins[b]++
		} else {
			passBins[b]++
		}
	}
	maxCount := 1
	for b := 0; b < r.Bins; b++ {
		if n := passBins[b] + failBins[b]; n > maxCount {
			maxCount = n
		}
	}

	plotW := r.Width - 2*histMargin
	plotH := r.Height - 2*histMargin
	binW := plotW / r.Bins
	if binW < 1 {
		binW = 1
	}

	for b := 0; b < r.Bins; b++ {
		x0 := histMargin + b*binW
		passH := plotH * passBins[b] / maxCount
		failH := plotH * failBins[b] / maxCount
		drawRect(img, x0, r.Height-histMargin-passH, binW-1, passH, histPassBar)
		drawRect(img, x0, r.Height-histMargin-passH-failH, binW-1, failH, histFailBar)
	}

	// Axes.
	drawRect(img, histMargin, r.Height-histMargin, plotW, 1, histAxis)
	drawRect(img, histMargin, histMargin, 1, plotH, histAxis)

	// One vertical marker per group threshold, labelled.
	for i, g := range r.Report.Groups {
		x := histMargin + int(float64(plotW)*(g.Threshold-minScore)/span)
		if x < histMargin || x > r.Width-histMargin {
			continue
		}
		drawRect(img, x, histMargin, 1, plotH, histThreshold)
		label := fmt.Sprintf("%s: %.2f", g.Group, g.Threshold)
		drawText(img, x+3, histMargin+12+12*i, label, histThreshold)
	}

	title := fmt.Sprintf("%s mapping error scores (n=%d, fail=%d)",
		r.Report.Dataset, len(cells), r.Report.FailCount())
	drawText(img, histMargin, histMargin-10, title, histAxis)
	drawText(img, histMargin, r.Height-histMargin+16, fmt.Sprintf("%.2f", minScore), histAxis)
	drawText(img, r.Width-histMargin-30, r.Height-histMargin+16, fmt.Sprintf("%.2f", maxScore), histAxis)

	return img
}

// SavePNG renders the histogram and writes it to a PNG file.
func (r *HistogramRenderer) SavePNG(path string) error {
	img := r.Render()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}

func fill(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func drawRect(img *image.RGBA, x, y, w, h int, c color.RGBA) {
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			img.SetRGBA(x+dx, y+dy, c)
		}
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
