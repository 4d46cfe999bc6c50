package fits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/hmdcm/internal/data/repos/testutil"
	types "github.com/yungbote/hmdcm/internal/domain"
	"github.com/yungbote/hmdcm/internal/platform/dbctx"
)

func TestFitRunRepo(t *testing.T) {
	db := testutil.DB(t)
	repo := NewFitRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	older, err := repo.Create(dbc, &types.FitRun{
		Rule:        "general",
		K:           2,
		Respondents: 10,
		Occasions:   3,
		Fingerprint: "abc",
		ConfigJSON:  datatypes.JSON([]byte(`{"max_iter":10}`)),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if older.ID == uuid.Nil || older.Status != types.FitRunStatusRunning {
		t.Fatalf("expected id and running status, got %+v", older)
	}

	newer := &types.FitRun{
		Rule:        "conjunctive",
		K:           1,
		Fingerprint: "def",
		CreatedAt:   time.Now().UTC().Add(time.Minute),
	}
	if _, err := repo.Create(dbc, newer); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := datatypes.JSON([]byte(`{"elbo":[-10,-9.5]}`))
	if err := repo.Finish(dbc, older.ID, types.FitRunStatusConverged, 2, -9.5, result, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, err := repo.GetByID(dbc, older.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v %v", got, err)
	}
	if got.Status != types.FitRunStatusConverged || got.Iterations != 2 || got.FinalELBO != -9.5 || got.FinishedAt == nil {
		t.Fatalf("finish not persisted: %+v", got)
	}
	if string(got.ResultJSON) != string(result) {
		t.Fatalf("result json = %s", got.ResultJSON)
	}

	list, err := repo.ListRecent(dbc, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID {
		t.Fatalf("expected newest first, got %d runs", len(list))
	}

	missing, err := repo.GetByID(dbc, uuid.New())
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown id, got %v %v", missing, err)
	}
	if err := repo.Finish(dbc, uuid.New(), types.FitRunStatusFailed, 0, 0, nil, "boom"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFitRunRepo_RollsBackWithTransaction(t *testing.T) {
	db := testutil.DB(t)
	repo := NewFitRunRepo(db, testutil.Logger(t))
	ctx := context.Background()

	tx := db.Begin()
	run, err := repo.Create(dbctx.Context{Ctx: ctx, Tx: tx}, &types.FitRun{Rule: "general", K: 1, Fingerprint: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := tx.Rollback().Error; err != nil {
		t.Fatalf("rollback: %v", err)
	}
	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, run.ID)
	if err != nil || got != nil {
		t.Fatalf("rolled back run still visible: %v %v", got, err)
	}
}
