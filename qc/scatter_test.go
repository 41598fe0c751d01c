package qc

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
)

func scatterFixture(t *testing.T) *ScatterRenderer {
	t.Helper()
	ref := compileTestReference(t, twoClusterModel())
	batch := twoClusterBatch()
	report, err := Score(ref, batch, DefaultParams())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	return NewScatterRenderer(report, batch, ref)
}

func TestScatterRenderToSVG(t *testing.T) {
	r := scatterFixture(t)

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("RenderToSVG failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<svg") {
		t.Error("output does not look like SVG")
	}
	if !strings.Contains(out, "</svg>") {
		t.Error("SVG output is not closed")
	}
}

func TestScatterRenderToPNG(t *testing.T) {
	r := scatterFixture(t)

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("RenderToPNG failed: %v", err)
	}

	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Error("decoded image is empty")
	}
}

func TestScatterWithoutReference(t *testing.T) {
	r := scatterFixture(t)
	r.Reference = nil

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("RenderToSVG without reference failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("empty SVG output")
	}
}

func TestScatterErrors(t *testing.T) {
	r := scatterFixture(t)

	t.Run("empty batch", func(t *testing.T) {
		r := *r
		r.Batch = &ObservationSet{}
		var buf bytes.Buffer
		if err := r.RenderToSVG(&buf); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("one-dimensional embedding", func(t *testing.T) {
		r := *r
		r.Batch = &ObservationSet{
			Embeddings: [][]float64{{1}},
			Weights:    [][]float64{{1, 0}},
		}
		var buf bytes.Buffer
		if err := r.RenderToSVG(&buf); err == nil {
			t.Error("expected error")
		}
	})
}

func TestScatterBoundsDegenerateExtent(t *testing.T) {
	// All cells at the same point must still yield a non-zero canvas.
	ref := compileTestReference(t, twoClusterModel())
	batch := &ObservationSet{
		Dataset:    "flat",
		Embeddings: [][]float64{{1, 1}, {1, 1}},
		Weights:    [][]float64{{1, 0}, {1, 0}},
	}
	report, err := Score(ref, batch, DefaultParams())
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	r := NewScatterRenderer(report, batch, nil)
	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("RenderToSVG failed: %v", err)
	}
}
