package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/hmdcm/internal/hmdcm/fit"
	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/itemmap"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_FileOverDefaultsThenEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "hmdcm.yaml", `
env: production
fit:
  rule: dina
  max_iter: 50
  nondecreasing: true
data:
  k: 2
  forms:
    - q_path: q0.csv
      responses_path: /abs/x0.csv
  versions_path: versions.csv
  order: [[0], [0]]
store:
  dsn: sqlite:runs.db
`)
	t.Setenv("LOG_MODE", "")
	t.Setenv("HMDCM_MAX_ITER", "")
	t.Setenv("HMDCM_DB_DSN", "")
	t.Setenv("HMDCM_TOLERANCE", "0.001")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "production" || cfg.Fit.MaxIter != 50 || cfg.Data.K != 2 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Fit.Tolerance != 0.001 || cfg.Progress.RedisAddr != "localhost:6379" {
		t.Fatalf("env overrides not applied: %+v", cfg.Fit)
	}
	if cfg.Fit.Init != "uniform" || cfg.Fit.Seed != 1 || cfg.Progress.Channel != defaultChannel {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Data.Forms[0].QPath != filepath.Join(dir, "q0.csv") || cfg.Data.Forms[0].ResponsesPath != "/abs/x0.csv" {
		t.Fatalf("paths not resolved: %+v", cfg.Data.Forms[0])
	}
	if cfg.Store.DSN != "sqlite:"+filepath.Join(dir, "runs.db") {
		t.Fatalf("sqlite path not resolved: %s", cfg.Store.DSN)
	}

	fc, err := cfg.FitConfig()
	if err != nil {
		t.Fatalf("FitConfig: %v", err)
	}
	if fc.Rule != itemmap.Conjunctive || !fc.NonDecreasing || fc.Init != fit.InitUniform || len(fc.Order) != 2 {
		t.Fatalf("unexpected fit config %+v", fc)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.yaml", "fit:\n  timeout: soon\n")
	if _, err := Load(bad); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	missing := writeFile(t, dir, "missing.yaml", "data:\n  forms:\n    - q_path: q.csv\n")
	if _, err := Load(missing); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFitConfig_RejectsUnknownRule(t *testing.T) {
	cfg := defaultConfig()
	cfg.Fit.Rule = "compensatory"
	if _, err := cfg.FitConfig(); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadHyper(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "hyper.yaml", `
a0: [[[1, 2]]]
b0: [[[2, 1]]]
delta0: [1, 1]
omega0:
  - [1, 1]
  - [0, 1]
`)
	h, err := LoadHyper(p)
	if err != nil {
		t.Fatalf("LoadHyper: %v", err)
	}
	if h.L != 2 || len(h.Omega0) != 4 || h.Omega0[2] != 0 || h.A0[0][0][1] != 2 {
		t.Fatalf("unexpected hyper %+v", h)
	}

	ragged := writeFile(t, dir, "ragged.yaml", "delta0: [1, 1]\nomega0:\n  - [1]\n  - [1, 1]\n")
	if _, err := LoadHyper(ragged); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
