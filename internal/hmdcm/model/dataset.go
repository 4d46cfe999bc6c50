package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/pattern"
)

// Form is one test form: its Q-matrix (items × K) and the 0/1 responses of every
// respondent to its items (respondents × items).
type Form struct {
	Q         [][]uint8
	Responses [][]uint8
}

// Dataset holds responses grouped by test form. Without a schedule, form t is the
// form every respondent took at occasion t.
type Dataset struct {
	K     int
	Forms []Form
}

func (d *Dataset) Respondents() int {
	if d == nil || len(d.Forms) == 0 {
		return 0
	}
	return len(d.Forms[0].Responses)
}

func (d *Dataset) Occasions() int {
	if d == nil {
		return 0
	}
	return len(d.Forms)
}

func (d *Dataset) Items(s int) int {
	return len(d.Forms[s].Q)
}

// Validate checks shapes and that every response and Q entry is 0 or 1.
func (d *Dataset) Validate() error {
	const op = "validate dataset"
	if d == nil {
		return fiterr.Config(op, "dataset is nil")
	}
	if d.K < 1 || d.K > pattern.MaxAttributes {
		return fiterr.Config(op, "attribute count %d outside [1,%d]", d.K, pattern.MaxAttributes)
	}
	if len(d.Forms) == 0 {
		return fiterr.Config(op, "no test forms")
	}
	n := len(d.Forms[0].Responses)
	if n == 0 {
		return fiterr.Config(op, "no respondents")
	}
	for s, f := range d.Forms {
		if len(f.Q) == 0 {
			return fiterr.Config(op, "form %d has no items", s)
		}
		for j, row := range f.Q {
			if len(row) != d.K {
				return fiterr.Config(op, "form %d item %d: Q row has %d entries, want %d", s, j, len(row), d.K)
			}
			for _, v := range row {
				if v > 1 {
					return fiterr.Config(op, "form %d item %d: Q entries must be 0 or 1", s, j)
				}
			}
		}
		if len(f.Responses) != n {
			return fiterr.Config(op, "form %d has %d respondents, want %d", s, len(f.Responses), n)
		}
		for i, row := range f.Responses {
			if len(row) != len(f.Q) {
				return fiterr.Config(op, "form %d respondent %d: %d responses, want %d", s, i, len(row), len(f.Q))
			}
			for _, v := range row {
				if v > 1 {
					return fiterr.Config(op, "form %d respondent %d: responses must be 0 or 1", s, i)
				}
			}
		}
	}
	return nil
}

// Fingerprint is a stable sha256 over K, Q-matrices and responses.
func (d *Dataset) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	put := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	put(d.K)
	put(len(d.Forms))
	for _, f := range d.Forms {
		put(len(f.Q))
		for _, row := range f.Q {
			_, _ = h.Write(row)
		}
		put(len(f.Responses))
		for _, row := range f.Responses {
			_, _ = h.Write(row)
		}
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
