package qc

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// ScatterRenderer renders the first two embedding dimensions of a scored
// batch as a vector scatter plot, colored by QC label. Useful for eyeballing
// where rejected cells sit relative to the reference structure.
type ScatterRenderer struct {
	Report     *Report
	Batch      *ObservationSet
	Reference  *CompiledReference
	Scale      float64           // world units per embedding unit
	Padding    float64           // padding in world units
	PointSize  float64           // marker radius in world units
	Resolution canvas.Resolution // resolution for PNG output
}

// NewScatterRenderer creates a scatter renderer with default settings.
// Reference may be nil; when set, cluster centers are drawn as crosses.
func NewScatterRenderer(report *Report, batch *ObservationSet, ref *CompiledReference) *ScatterRenderer {
	return &ScatterRenderer{
		Report:     report,
		Batch:      batch,
		Reference:  ref,
		Scale:      40.0,
		Padding:    60.0,
		PointSize:  4.0,
		Resolution: canvas.DPI(150),
	}
}

var (
	scatterPass   = color.RGBA{100, 149, 237, 255}
	scatterFail   = color.RGBA{255, 99, 71, 255}
	scatterCenter = color.RGBA{40, 40, 40, 255}
)

// canvasRenderer is the subset both the svg and rasterizer backends satisfy.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the scatter as an SVG to the provided writer.
func (r *ScatterRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, maxX, maxY, err := r.bounds()
	if err != nil {
		return err
	}
	width := (maxX-minX)*r.Scale + 2*r.Padding
	height := (maxY-minY)*r.Scale + 2*r.Padding

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the scatter as a PNG to the provided writer.
func (r *ScatterRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, maxX, maxY, err := r.bounds()
	if err != nil {
		return err
	}
	width := (maxX-minX)*r.Scale + 2*r.Padding
	height := (maxY-minY)*r.Scale + 2*r.Padding

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, width, height)
	return png.Encode(w, rast)
}

// bounds computes the embedding-space extent over cells and cluster centers.
func (r *ScatterRenderer) bounds() (minX, minY, maxX, maxY float64, err error) {
	if r.Batch == nil || r.Batch.Len() == 0 {
		return 0, 0, 0, 0, fmt.Errorf("scatter: empty batch")
	}
	if len(r.Batch.Embeddings[0]) < 2 {
		return 0, 0, 0, 0, fmt.Errorf("scatter: embedding has fewer than 2 dimensions")
	}

	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, row := range r.Batch.Embeddings {
		minX = math.Min(minX, row[0])
		maxX = math.Max(maxX, row[0])
		minY = math.Min(minY, row[1])
		maxY = math.Max(maxY, row[1])
	}
	if r.Reference != nil {
		for _, cl := range r.Reference.clusters {
			minX = math.Min(minX, cl.center.AtVec(0))
			maxX = math.Max(maxX, cl.center.AtVec(0))
			minY = math.Min(minY, cl.center.AtVec(1))
			maxY = math.Max(maxY, cl.center.AtVec(1))
		}
	}
	if maxX == minX {
		maxX = minX + 1
	}
	if maxY == minY {
		maxY = minY + 1
	}
	return minX, minY, maxX, maxY, nil
}

func (r *ScatterRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		return (x-minX)*r.Scale + r.Padding, (y-minY)*r.Scale + r.Padding
	}

	// Pass points first so failures stay visible on top.
	for _, failPass := range []QCLabel{QCPass, QCFail} {
		style := canvas.DefaultStyle
		if failPass == QCFail {
			style.Fill = canvas.Paint{Color: scatterFail}
		} else {
			style.Fill = canvas.Paint{Color: scatterPass}
		}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}

		for i, cell := range r.Report.Cells {
			if cell.QC != failPass {
				continue
			}
			cx, cy := toCanvas(r.Batch.Embeddings[i][0], r.Batch.Embeddings[i][1])
			p := canvas.Circle(r.PointSize)
			p = p.Translate(cx, cy)
			renderer.RenderPath(p, style, canvas.Identity)
		}
	}

	// Cluster centers as crosses.
	if r.Reference != nil {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: canvas.Transparent}
		style.Stroke = canvas.Paint{Color: scatterCenter}
		style.StrokeWidth = 1.5

		arm := r.PointSize * 2
		for _, cl := range r.Reference.clusters {
			cx, cy := toCanvas(cl.center.AtVec(0), cl.center.AtVec(1))
			cross := &canvas.Path{}
			cross.MoveTo(cx-arm, cy)
			cross.LineTo(cx+arm, cy)
			cross.MoveTo(cx, cy-arm)
			cross.LineTo(cx, cy+arm)
			renderer.RenderPath(cross, style, canvas.Identity)
		}
	}
}
