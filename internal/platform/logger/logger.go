package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// maxLoggedFloats caps how many elements of a []float64 value are written verbatim.
const maxLoggedFloats = 16

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "test":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, sanitizeKVs(keysAndValues)...)
}
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(sanitizeKVs(keysAndValues)...)}
}

// pseudonymKeys are logged as salted digests so log lines can be joined per
// respondent without exposing roster positions.
var pseudonymKeys = []string{"respondent_id", "student_id"}

var (
	pseudoOnce sync.Once
	pseudoOn   bool
	pseudoSalt []byte
)

func pseudonymsEnabled() bool {
	pseudoOnce.Do(func() {
		switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_HASH_IDS"))) {
		case "0", "false", "no", "off":
		default:
			pseudoOn = true
		}
		pseudoSalt = []byte(strings.TrimSpace(os.Getenv("LOG_HASH_SALT")))
	})
	return pseudoOn
}

func sanitizeKVs(kv []interface{}) []interface{} {
	if len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		out = append(out, key, sanitizeValue(strings.ToLower(key), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, kv[len(kv)-1])
	}
	return out
}

func sanitizeValue(key string, val interface{}) interface{} {
	if pseudonymsEnabled() && slices.Contains(pseudonymKeys, key) {
		return pseudonym(val)
	}
	switch v := val.(type) {
	case []float64:
		return truncateFloats(v)
	case [][]float64:
		return fmt.Sprintf("[%d rows]", len(v))
	default:
		return val
	}
}

// truncateFloats keeps the first maxLoggedFloats entries of long posterior
// vectors; L grows as 2^K.
func truncateFloats(v []float64) interface{} {
	if len(v) <= maxLoggedFloats {
		return v
	}
	return map[string]interface{}{"head": slices.Clone(v[:maxLoggedFloats]), "len": len(v)}
}

func pseudonym(val interface{}) string {
	sum := sha256.Sum256(append(slices.Clone(pseudoSalt), fmt.Sprint(val)...))
	return "resp:" + hex.EncodeToString(sum[:6])
}
