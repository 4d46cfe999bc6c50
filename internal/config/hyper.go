package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/posterior"
)

// hyperFile is the on-disk prior override. omega0 is written as nested rows.
type hyperFile struct {
	A0     [][][]float64 `yaml:"a0"`
	B0     [][][]float64 `yaml:"b0"`
	Delta0 []float64     `yaml:"delta0"`
	Omega0 [][]float64   `yaml:"omega0"`
}

// LoadHyper reads a prior override. Shapes and positivity are checked against the
// fit structure later, when the fit starts.
func LoadHyper(path string) (*posterior.Hyper, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hyperparameters %s: %w", path, err)
	}
	var hf hyperFile
	if err := yaml.Unmarshal(b, &hf); err != nil {
		return nil, fmt.Errorf("parse hyperparameters %s: %w", path, err)
	}
	l := len(hf.Delta0)
	if len(hf.Omega0) != l {
		return nil, fiterr.Config("load hyperparameters", "omega0 has %d rows, delta0 has %d entries", len(hf.Omega0), l)
	}
	omega := make([]float64, 0, l*l)
	for r, row := range hf.Omega0 {
		if len(row) != l {
			return nil, fiterr.Config("load hyperparameters", "omega0 row %d has %d entries, want %d", r, len(row), l)
		}
		omega = append(omega, row...)
	}
	return &posterior.Hyper{L: l, A0: hf.A0, B0: hf.B0, Delta0: hf.Delta0, Omega0: omega}, nil
}
