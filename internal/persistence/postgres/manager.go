// Package postgres implements the artifact store on PostgreSQL via sqlx.
// Every repository method bounds its round-trip with a per-call context
// timeout; unique-violation races surface as typed persistence errors so the
// orchestrator can resolve them by re-reading.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

// Manager owns the connection pool and the repository set.
type Manager struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager opens the pool, verifies connectivity, and wires the repos.
func NewManager(cfg config.DatabaseConfig) (*Manager, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	m := &Manager{
		db:  db,
		cfg: cfg,
		repos: &persistence.Repository{
			Sessions:  NewSessionRepo(db, timeout),
			Analytics: NewAnalyticsRepo(db, timeout),
			Scores:    NewScoresRepo(db, timeout),
			BFR:       NewBFRRepo(db, timeout),
			Settings:  NewSettingsRepo(db, timeout),
			Params:    NewParamsRepo(db, timeout),
			Configs:   NewConfigRepo(db, timeout),
		},
		health: &healthChecker{db: db, timeout: timeout},
	}
	log.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("database connected")
	return m, nil
}

// Repository returns the repository collection.
func (m *Manager) Repository() *persistence.Repository { return m.repos }

// Health returns the health checker.
func (m *Manager) Health() persistence.RepositoryHealth { return m.health }

// DB exposes the pool for migrations.
func (m *Manager) DB() *sqlx.DB { return m.db }

// Close releases the connection pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth.
type healthChecker struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errors []string
	healthy := true
	if err := h.db.PingContext(pingCtx); err != nil {
		errors = append(errors, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	return persistence.HealthCheck{
		Healthy: healthy,
		Errors:  errors,
		ConnectionPool: map[string]int{
			"max_open":      stats.MaxOpenConnections,
			"open":          stats.OpenConnections,
			"in_use":        stats.InUse,
			"idle":          stats.Idle,
			"wait_count":    int(stats.WaitCount),
			"wait_duration": int(stats.WaitDuration.Milliseconds()),
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

func (h *healthChecker) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(pingCtx)
}

func (h *healthChecker) Stats(ctx context.Context) map[string]interface{} {
	stats := h.db.Stats()
	return map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}
