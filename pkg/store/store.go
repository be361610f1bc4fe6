package store

import (
	"errors"
	"time"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrJobNotFound = errors.New("job not found")
)

// Store persists batch runs and their per-image job outcomes.
// Both MemoryStore and SQLiteStore implement this interface.
type Store interface {
	CreateRun(run *models.Run) error
	FinishRun(id string, tally models.Tally, finishedAt time.Time) error
	GetRun(id string) (*models.Run, error)
	ListRuns(limit int) ([]*models.Run, error)

	RecordJob(runID string, job *models.Job) error
	GetRunJobs(runID string) ([]*models.Job, error)

	Close() error
}

// Config holds store configuration
type Config struct {
	Type string // "memory" or "sqlite"
	Path string // database file for sqlite
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = "photobooth.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, errors.New("unsupported store type: " + config.Type)
	}
}

// Ensure both implementations satisfy the interface
var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLiteStore)(nil)
