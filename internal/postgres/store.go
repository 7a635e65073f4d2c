// Package postgres owns the connection pool, schema migrations, and the
// per-transaction tenant binding every data-plane operation runs under.
//
// The binding model follows one rule: tenant identity is attached to the
// transaction, never the session. WithTenant binds app.tenant_id with
// set_config(..., is_local => true) so the setting dies at commit or
// rollback and a pooled connection can never carry one request's tenant
// into the next.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/access"
	"github.com/mnemolabs/recalld/internal/enforcement"
	"github.com/mnemolabs/recalld/internal/registry"
	"github.com/mnemolabs/recalld/internal/tenant"
)

// ErrPoolTimeout is returned when no pooled connection became available
// within Config.AcquireTimeout. Interface layers map it to
// resource-exhausted rather than letting requests queue unboundedly.
var ErrPoolTimeout = errors.New("connection pool acquisition timed out")

// Store wraps the pgx pool with tenant-scoped transaction helpers.
type Store struct {
	pool    *pgxpool.Pool
	cfg     Config
	logger  *zap.Logger
	phases  *enforcement.Manager
	auditor *enforcement.Auditor
}

// New connects the pool and verifies the database is reachable.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns

	// The data plane only binds tenants transaction-locally, so a released
	// connection should never carry a tenant. Clear the setting anyway and
	// destroy the connection if that fails.
	poolCfg.AfterRelease = func(conn *pgx.Conn) bool {
		resetCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := conn.Exec(resetCtx, `SELECT set_config('app.tenant_id', '', false)`); err != nil {
			logger.Warn("tenant binding reset failed on release, destroying connection",
				zap.Error(err))
			return false
		}
		return true
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		pool:    pool,
		cfg:     cfg,
		logger:  logger,
		phases:  enforcement.NewManager(pool, enforcement.ManagerConfig{}, logger),
		auditor: enforcement.NewAuditor(pool, logger),
	}
	return s, nil
}

// Pool exposes the raw pool for control-plane components (registry, admin
// CLI). Data-plane code must go through WithTenant.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Phases returns the enforcement phase manager bound to this pool.
func (s *Store) Phases() *enforcement.Manager { return s.phases }

// Auditor returns the shadow audit sink bound to this pool.
func (s *Store) Auditor() *enforcement.Auditor { return s.auditor }

// Close shuts the pool down.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database reachability, used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// acquire obtains a pooled connection within the configured timeout,
// converting deadline exhaustion into ErrPoolTimeout.
func (s *Store) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.cfg.AcquireTimeout)
	defer cancel()

	start := time.Now()
	conn, err := s.pool.Acquire(acquireCtx)
	acquireDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if acquireCtx.Err() != nil && ctx.Err() == nil {
			poolTimeouts.Inc()
			return nil, fmt.Errorf("%w: after %s", ErrPoolTimeout, s.cfg.AcquireTimeout)
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// WithTenant runs fn inside a transaction bound to the acting tenant.
//
// The sequence is fixed: acquire within AcquireTimeout, begin, bind
// app.tenant_id transaction-locally, resolve the access scope (level,
// grants, and enforcement phase, all read in this same transaction), run
// fn, commit. Unregistered tenants fail with ErrUnknownTenant before fn
// sees a transaction. Audit entries collected by fn are flushed after
// commit; a flush failure never fails the operation.
func (s *Store) WithTenant(ctx context.Context, tc tenant.Context, fn func(context.Context, *TenantTx) error) error {
	if err := tc.Validate(); err != nil {
		return err
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, string(tc.Tenant)); err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", s.cfg.StatementTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set statement timeout: %w", err)
	}

	level, err := registry.AccessLevelOf(ctx, tx, tc.Tenant)
	if err != nil {
		return err
	}
	grants, err := registry.GrantsFor(ctx, tx, tc.Tenant)
	if err != nil {
		return err
	}
	phase, err := s.phases.PhaseOf(ctx, tx, tc.Tenant)
	if err != nil {
		return err
	}

	ttx := &TenantTx{
		Tx:       tx,
		Identity: tc,
		Scope:    access.BuildScope(tc, level, grants, phase),
	}

	if err := fn(ctx, ttx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if len(ttx.audits) > 0 {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.auditor.Flush(flushCtx, ttx.audits)
	}
	return nil
}

// WithAdmin runs fn in a plain transaction with no tenant binding, for
// control-plane work (registry, migrations, enforcement administration).
func (s *Store) WithAdmin(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
