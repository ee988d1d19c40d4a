// iface.go defines Ledger, the store operations the pipeline and the
// command layer depend on. Tests substitute an in-memory fake.
package store

import (
	"time"

	"github.com/daviddao/skylog/pkg/model"
)

// Ledger is the run ledger. The concrete *Store implements it.
type Ledger interface {
	Close() error

	// --- Runs ---

	BeginRun(id string, startedAt time.Time, config string) error
	FinishRun(id string, finishedAt time.Time, summary string, runErr error) error
	GetRun(id string) (*model.Run, error)
	LatestRun() (*model.Run, error)
	ListRuns(limit int) ([]model.Run, error)
	DeleteRun(id string) error

	// --- Dangling references ---

	InsertDanglingPosts(runID string, posts []model.DanglingPost) error
	InsertDanglingActors(runID string, actors []string) error
	ListDanglingPosts(runID string, limit int) ([]model.DanglingPost, error)
	ListDanglingActors(runID string, limit int) ([]string, error)
	CountDangling(runID string) (posts, actors int64, err error)

	// --- Anomalies ---

	InsertAnomalies(runID string, anomalies []*model.Anomaly) error
	CountAnomalies(runID string) (map[string]int64, error)
	ListAnomalies(runID, kind string, limit int) ([]model.AnomalyRecord, error)
}

// Compile-time check that *Store implements Ledger.
var _ Ledger = (*Store)(nil)
