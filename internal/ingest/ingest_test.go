package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/hmdcm/internal/config"
	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
)

func TestReadBinary(t *testing.T) {
	m, err := ReadBinary(strings.NewReader("item,a1,a2\n1, 0\n# skipped\n0,1\n"), true)
	if err != nil {
		t.Fatalf("ReadBinary: %v", err)
	}
	if len(m) != 2 || m[0][0] != 1 || m[0][1] != 0 || m[1][1] != 1 {
		t.Fatalf("unexpected matrix %v", m)
	}
	if _, err := ReadBinary(strings.NewReader("1,2\n"), false); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := ReadBinary(strings.NewReader("1,0\n1\n"), false); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected ragged-row error, got %v", err)
	}
}

func TestReadInts(t *testing.T) {
	v, err := ReadInts(strings.NewReader("0\n1\n 1\n"), false)
	if err != nil || len(v) != 3 || v[2] != 1 {
		t.Fatalf("ReadInts = %v, %v", v, err)
	}
	if _, err := ReadInts(strings.NewReader("-1\n"), false); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoad_BuildsValidatedDataset(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return p
	}
	sec := config.DataSection{
		Forms: []config.FormSource{
			{QPath: write("q0.csv", "1,0\n0,1\n"), ResponsesPath: write("x0.csv", "1,0\n1,1\n0,0\n")},
			{QPath: write("q1.csv", "1,1\n"), ResponsesPath: write("x1.csv", "1\n0\n1\n")},
		},
		VersionsPath: write("v.csv", "0\n1\n0\n"),
	}
	d, versions, err := Load(sec)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.K != 2 || d.Respondents() != 3 || d.Occasions() != 2 || d.Items(1) != 1 {
		t.Fatalf("unexpected dataset shape K=%d N=%d T=%d", d.K, d.Respondents(), d.Occasions())
	}
	if len(versions) != 3 || versions[1] != 1 {
		t.Fatalf("unexpected versions %v", versions)
	}

	sec.Forms[1].ResponsesPath = write("short.csv", "1\n")
	if _, _, err := Load(sec); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected configuration error for mismatched respondents, got %v", err)
	}
}
