// Package report writes fit results to disk: a JSON document with estimates and
// decodings, and a PNG chart of the bound trajectory.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"

	"github.com/yungbote/hmdcm/internal/hmdcm/elbo"
	"github.com/yungbote/hmdcm/internal/hmdcm/fit"
	"github.com/yungbote/hmdcm/internal/hmdcm/posterior"
)

type Report struct {
	RunID       string             `json:"run_id,omitempty"`
	Fingerprint string             `json:"fingerprint"`
	State       fit.State          `json:"state"`
	Converged   bool               `json:"converged"`
	Iterations  int                `json:"iterations"`
	ElapsedMS   int64              `json:"elapsed_ms"`
	ELBO        []float64          `json:"elbo"`
	Terms       elbo.Terms         `json:"terms"`
	Warnings    []string           `json:"warnings,omitempty"`
	Summary     *posterior.Summary `json:"summary"`

	MAPClass      [][]int       `json:"map_class"`
	MAPAttributes [][][]int     `json:"map_attributes"`
	EAPProb       [][][]float64 `json:"eap_prob"`
	EAPAttributes [][][]int     `json:"eap_attributes"`
}

func FromResult(runID, fingerprint string, res *fit.Result) *Report {
	return &Report{
		RunID:         runID,
		Fingerprint:   fingerprint,
		State:         res.State,
		Converged:     res.Converged,
		Iterations:    res.Iterations,
		ElapsedMS:     res.Elapsed.Milliseconds(),
		ELBO:          res.ELBO,
		Terms:         res.Terms,
		Warnings:      res.Warnings,
		Summary:       res.Summary,
		MAPClass:      res.MAPClass,
		MAPAttributes: res.MAPAttributes,
		EAPProb:       res.EAPProb,
		EAPAttributes: res.EAPAttributes,
	}
}

// Compact is the subset persisted with a fit run: everything but the decodings.
func (r *Report) Compact() ([]byte, error) {
	c := *r
	c.MAPClass, c.MAPAttributes, c.EAPProb, c.EAPAttributes = nil, nil, nil, nil
	return json.Marshal(&c)
}

func WriteJSON(path string, r *Report) error {
	if r == nil {
		return errors.New("report is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode report: %w", err)
	}
	return f.Close()
}

const (
	plotW   = 800
	plotH   = 480
	plotPad = 60.0
)

// PlotELBO renders the bound trajectory as a PNG line chart.
func PlotELBO(path string, trajectory []float64) error {
	if len(trajectory) == 0 {
		return errors.New("empty ELBO trajectory")
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range trajectory {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite ELBO value %v", v)
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi == lo {
		hi, lo = hi+0.5, lo-0.5
	}

	dc := gg.NewContext(plotW, plotH)
	dc.SetColor(color.White)
	dc.Clear()

	x0, y0 := plotPad, float64(plotH)-plotPad
	x1, y1 := float64(plotW)-plotPad/2, plotPad/2
	dc.SetColor(color.Gray{Y: 90})
	dc.SetLineWidth(1)
	dc.DrawLine(x0, y0, x1, y0)
	dc.DrawLine(x0, y0, x0, y1)
	dc.Stroke()

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(fmt.Sprintf("%.4g", hi), x0-4, y1, 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.4g", lo), x0-4, y0, 1, 0.5)
	dc.DrawStringAnchored("1", x0, y0+14, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%d", len(trajectory)), x1, y0+14, 0.5, 0.5)
	dc.DrawStringAnchored("iteration", (x0+x1)/2, y0+30, 0.5, 0.5)
	dc.DrawStringAnchored("ELBO", x0, y1-12, 0.5, 0.5)

	span := float64(max(len(trajectory)-1, 1))
	px := func(k int) float64 { return x0 + (x1-x0)*float64(k)/span }
	py := func(v float64) float64 { return y0 - (y0-y1)*(v-lo)/(hi-lo) }

	dc.SetRGB255(31, 119, 180)
	dc.SetLineWidth(2)
	dc.MoveTo(px(0), py(trajectory[0]))
	for k := 1; k < len(trajectory); k++ {
		dc.LineTo(px(k), py(trajectory[k]))
	}
	dc.Stroke()
	dc.DrawCircle(px(len(trajectory)-1), py(trajectory[len(trajectory)-1]), 3)
	dc.Fill()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return dc.SavePNG(path)
}
