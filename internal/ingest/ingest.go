// Package ingest reads Q-matrices, response matrices and test-version tables
// from CSV files into a model.Dataset.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/yungbote/hmdcm/internal/config"
	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/model"
)

// ReadBinary parses a 0/1 matrix. Every row must have the same width.
func ReadBinary(r io.Reader, header bool) ([][]uint8, error) {
	rows, err := readAll(r, header)
	if err != nil {
		return nil, err
	}
	out := make([][]uint8, len(rows))
	for i, rec := range rows {
		out[i] = make([]uint8, len(rec))
		for j, cell := range rec {
			switch strings.TrimSpace(cell) {
			case "0":
			case "1":
				out[i][j] = 1
			default:
				return nil, fiterr.Config("read binary matrix", "row %d column %d: %q is not 0 or 1", i+1, j+1, cell)
			}
		}
	}
	return out, nil
}

// ReadInts parses a single-column table of non-negative integers.
func ReadInts(r io.Reader, header bool) ([]int, error) {
	rows, err := readAll(r, header)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(rows))
	for i, rec := range rows {
		if len(rec) != 1 {
			return nil, fiterr.Config("read integer column", "row %d has %d columns, want 1", i+1, len(rec))
		}
		v, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil || v < 0 {
			return nil, fiterr.Config("read integer column", "row %d: %q is not a non-negative integer", i+1, rec[0])
		}
		out[i] = v
	}
	return out, nil
}

func readAll(r io.Reader, header bool) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, fiterr.Config("read csv", "line %d: %v", pe.Line, pe.Err)
		}
		return nil, err
	}
	if header && len(rows) > 0 {
		rows = rows[1:]
	}
	for i, rec := range rows {
		if len(rec) != len(rows[0]) {
			return nil, fiterr.Config("read csv", "row %d has %d columns, want %d", i+1, len(rec), len(rows[0]))
		}
	}
	return rows, nil
}

func readBinaryFile(path string, header bool) ([][]uint8, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	m, err := ReadBinary(f, header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Load reads every form listed in sec plus the optional version table. K is
// taken from the first Q-matrix when sec.K is 0.
func Load(sec config.DataSection) (*model.Dataset, []int, error) {
	if len(sec.Forms) == 0 {
		return nil, nil, fiterr.Config("load data", "no forms configured")
	}
	d := &model.Dataset{K: sec.K, Forms: make([]model.Form, len(sec.Forms))}
	for s, src := range sec.Forms {
		q, err := readBinaryFile(src.QPath, sec.Header)
		if err != nil {
			return nil, nil, err
		}
		x, err := readBinaryFile(src.ResponsesPath, sec.Header)
		if err != nil {
			return nil, nil, err
		}
		d.Forms[s] = model.Form{Q: q, Responses: x}
	}
	if d.K == 0 && len(d.Forms[0].Q) > 0 {
		d.K = len(d.Forms[0].Q[0])
	}

	var versions []int
	if sec.VersionsPath != "" {
		f, err := os.Open(sec.VersionsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", sec.VersionsPath, err)
		}
		defer f.Close()
		versions, err = ReadInts(f, sec.Header)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", sec.VersionsPath, err)
		}
	}
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}
	return d, versions, nil
}
