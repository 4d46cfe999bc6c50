package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/platform/logger"
)

// Open connects to the fit-run store. dsn is "sqlite:<path>" (":memory:" for an
// in-process database) or a postgres:// / postgresql:// URL.
func Open(dsn string, logg *logger.Logger) (*gorm.DB, error) {
	dialector, kind, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", kind, err)
	}
	if logg != nil {
		logg.Info("fit-run store connected", "driver", kind)
	}
	return db, nil
}

func dialectorFor(dsn string) (gorm.Dialector, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		path := strings.TrimPrefix(dsn, "sqlite:")
		if path == "" {
			path = ":memory:"
		}
		return sqlite.Open(path), "sqlite", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), "postgres", nil
	default:
		return nil, "", fiterr.Config("open store", "unsupported dsn %q (want sqlite:<path> or postgres://...)", dsn)
	}
}
