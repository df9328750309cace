package storage

import (
	"context"
	"time"

	"github.com/signalspoc/signals/internal/storage/sqlite"
	"github.com/signalspoc/signals/internal/types"
)

// ErrNotFound is returned (wrapped) when an alert id does not exist.
var ErrNotFound = sqlite.ErrNotFound

// Storage defines the interface for the alert store
type Storage interface {
	// Alerts
	InsertAlertIfAbsent(ctx context.Context, alert *types.Alert) (*types.Alert, bool, error)
	FindUnresolvedAlert(ctx context.Context, key types.DedupKey) (*types.Alert, error)
	GetAlert(ctx context.Context, id string) (*types.Alert, error)
	ListUnresolvedAlerts(ctx context.Context, limit int) ([]*types.Alert, error)
	ListUnreadAlerts(ctx context.Context) ([]*types.Alert, error)
	CountUnreadAlerts(ctx context.Context) (int, error)
	ListUnenrichedAlerts(ctx context.Context, limit int) ([]*types.Alert, error)
	MarkAlertRead(ctx context.Context, id string) error
	ResolveAlert(ctx context.Context, id string) (bool, error)
	ResolveAlertsBySource(ctx context.Context, system types.ConnectorType, sourceID string) (int, error)

	// Enrichment
	UpdateAlertEnrichment(ctx context.Context, id string, suggestion *string, actionJSON *string) (bool, error)

	// Action claims (one dispatcher per alert at a time)
	ClaimAlertForAction(ctx context.Context, id string, ttl time.Duration) (bool, error)
	ReleaseAlertClaim(ctx context.Context, id string) error

	// Analysis state (content checksums)
	GetAnalysisState(ctx context.Context, entityType, entityID string) (*types.AnalysisState, error)
	UpsertAnalysisState(ctx context.Context, state *types.AnalysisState) error

	// Task index
	UpsertTask(ctx context.Context, task *types.TaskSnapshot) error
	FindTasksByExternalID(ctx context.Context, externalID string) ([]*types.TaskSnapshot, error)
	FindTasksByTitleContaining(ctx context.Context, fragment string) ([]*types.TaskSnapshot, error)
	CountTasks(ctx context.Context) (int, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".signals/signals.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string
}

// DefaultPath is where the database lives when no path is configured.
const DefaultPath = ".signals/signals.db"

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: DefaultPath,
	}
}

// NewStorage creates a new SQLite storage backend
// The ctx parameter is currently unused but kept for API consistency
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return sqlite.New(cfg.Path)
}
