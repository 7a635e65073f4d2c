// Package registry is the tenant and grant control plane.
//
// Registration, grant management, and deletion are administrative
// operations: they run on plain transactions with no tenant binding and are
// reachable only from privileged entry points (recallctl, daemon startup),
// never from data-plane tools. The data plane consumes this package through
// the in-tx helpers AccessLevelOf and GrantsFor, which read registry state
// inside the request transaction so scope resolution is consistent with the
// data it gates.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/enforcement"
	"github.com/mnemolabs/recalld/internal/events"
	"github.com/mnemolabs/recalld/internal/tenant"
)

var (
	// ErrTenantExists is returned when registering an already-registered id.
	ErrTenantExists = errors.New("tenant already registered")

	// ErrTenantNotEmpty is returned when deleting a tenant that still owns
	// records and force was not set.
	ErrTenantNotEmpty = errors.New("tenant still owns records")

	// ErrSelfGrant is returned for grants where grantor equals grantee; a
	// tenant always reads its own rows, so such grants are never stored.
	ErrSelfGrant = errors.New("tenant cannot grant access to itself")
)

// Tenant is a registry row joined with its enforcement phase.
type Tenant struct {
	ID          tenant.ID
	DisplayName string
	Level       tenant.AccessLevel
	Phase       enforcement.Phase
	CreatedAt   time.Time
}

// GrantRecord is a stored grant with its creation time, for operator
// listings. Data-plane resolution uses the lighter tenant.Grant.
type GrantRecord struct {
	Grant     tenant.Grant
	CreatedAt time.Time
}

// pgBeginner is the pool subset the control plane needs.
type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service owns control-plane mutations of the tenant registry.
type Service struct {
	db     pgBeginner
	logger *zap.Logger
	events *events.Publisher
}

// NewService creates the control-plane service over the given pool.
func NewService(db pgBeginner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

// SetEvents wires an event publisher. Nil publishers are fine; events are
// advisory and never gate the operation.
func (s *Service) SetEvents(p *events.Publisher) { s.events = p }

// CreateTenant registers a tenant at the given access level and seeds its
// enforcement row at pending. An unknown level is rejected outright rather
// than defaulted, and registering an existing id fails with ErrTenantExists
// so operators notice collisions.
func (s *Service) CreateTenant(ctx context.Context, id tenant.ID, displayName string, level tenant.AccessLevel) (Tenant, error) {
	if _, err := tenant.ParseID(string(id)); err != nil {
		return Tenant{}, err
	}
	if _, err := tenant.ParseAccessLevel(string(level)); err != nil {
		return Tenant{}, err
	}

	var created Tenant
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO tenants (id, display_name, access_level) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO NOTHING`,
			string(id), displayName, string(level),
		)
		if err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrTenantExists, id)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO tenant_enforcement (tenant_id, phase) VALUES ($1, $2)`,
			string(id), string(enforcement.PhasePending),
		); err != nil {
			return fmt.Errorf("seed enforcement row: %w", err)
		}
		return tx.QueryRow(ctx,
			`SELECT id, display_name, created_at FROM tenants WHERE id = $1`,
			string(id),
		).Scan(&created.ID, &created.DisplayName, &created.CreatedAt)
	})
	if err != nil {
		return Tenant{}, err
	}

	created.Level = level
	created.Phase = enforcement.PhasePending
	s.logger.Info("tenant registered",
		zap.String("tenant", string(id)),
		zap.String("display_name", displayName),
		zap.String("access_level", string(level)))
	s.events.Publish(events.SubjectTenantCreated, events.TenantCreated{
		Tenant:      string(id),
		DisplayName: displayName,
		AccessLevel: string(level),
		At:          created.CreatedAt,
	})
	return created, nil
}

// SetAccessLevel changes a tenant's configured level. Reads resolved in
// flight keep the level their transaction loaded; the change applies to
// transactions that begin afterwards.
func (s *Service) SetAccessLevel(ctx context.Context, id tenant.ID, level tenant.AccessLevel) error {
	if _, err := tenant.ParseAccessLevel(string(level)); err != nil {
		return err
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE tenants SET access_level = $2 WHERE id = $1`,
			string(id), string(level),
		)
		if err != nil {
			return fmt.Errorf("update access level: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("tenant access level changed",
		zap.String("tenant", string(id)), zap.String("access_level", string(level)))
	return nil
}

// GetTenant returns one tenant with its current phase.
func (s *Service) GetTenant(ctx context.Context, id tenant.ID) (Tenant, error) {
	var out Tenant
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		return scanTenant(tx.QueryRow(ctx, tenantSelect+` WHERE t.id = $1`, string(id)), &out)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, id)
	}
	return out, err
}

// ListTenants returns every registered tenant, ordered by id.
func (s *Service) ListTenants(ctx context.Context) ([]Tenant, error) {
	var out []Tenant
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, tenantSelect+` ORDER BY t.id`)
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var t Tenant
			if err := scanTenant(rows, &t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteTenant removes a tenant, its grants, and its enforcement state.
// When the tenant still owns memories or graph nodes the delete fails with
// ErrTenantNotEmpty unless force is set, in which case owned rows are
// removed too.
func (s *Service) DeleteTenant(ctx context.Context, id tenant.ID, force bool) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, string(id),
		).Scan(&exists); err != nil {
			return fmt.Errorf("look up tenant: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, id)
		}

		var owned int64
		if err := tx.QueryRow(ctx,
			`SELECT (SELECT count(*) FROM memories WHERE tenant_id = $1)
			      + (SELECT count(*) FROM graph_nodes WHERE tenant_id = $1)`,
			string(id),
		).Scan(&owned); err != nil {
			return fmt.Errorf("count owned rows: %w", err)
		}
		if owned > 0 && !force {
			return fmt.Errorf("%w: %s owns %d rows", ErrTenantNotEmpty, id, owned)
		}
		if owned > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM memories WHERE tenant_id = $1`, string(id)); err != nil {
				return fmt.Errorf("delete memories: %w", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM graph_nodes WHERE tenant_id = $1`, string(id)); err != nil {
				return fmt.Errorf("delete graph nodes: %w", err)
			}
		}

		// Grants and enforcement rows cascade off the tenants FK.
		if _, err := tx.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, string(id)); err != nil {
			return fmt.Errorf("delete tenant: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("tenant deleted", zap.String("tenant", string(id)), zap.Bool("force", force))
	s.events.Publish(events.SubjectTenantDeleted, events.TenantDeleted{
		Tenant: string(id),
		Forced: force,
		At:     time.Now().UTC(),
	})
	return nil
}

// Grant records that grantee may read grantor's rows. Grants carry no
// level: they confer read visibility only, and only to grantees whose
// access level honors grants. Re-granting an existing pair is a no-op.
func (s *Service) Grant(ctx context.Context, grantor, grantee tenant.ID) error {
	if grantor == grantee {
		return fmt.Errorf("%w: %s", ErrSelfGrant, grantor)
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, id := range []tenant.ID{grantor, grantee} {
			ok, err := Exists(ctx, tx, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, id)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO tenant_read_grants (grantor, grantee) VALUES ($1, $2)
			 ON CONFLICT (grantor, grantee) DO NOTHING`,
			string(grantor), string(grantee),
		); err != nil {
			return fmt.Errorf("upsert grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("grant recorded",
		zap.String("grantor", string(grantor)),
		zap.String("grantee", string(grantee)))
	s.events.Publish(events.SubjectGrantChanged, events.GrantChanged{
		Grantor: string(grantor),
		Grantee: string(grantee),
		Action:  "granted",
		At:      time.Now().UTC(),
	})
	return nil
}

// Revoke removes a grant. Revoking a grant that does not exist is a no-op.
func (s *Service) Revoke(ctx context.Context, grantor, grantee tenant.ID) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM tenant_read_grants WHERE grantor = $1 AND grantee = $2`,
			string(grantor), string(grantee),
		); err != nil {
			return fmt.Errorf("delete grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("grant revoked",
		zap.String("grantor", string(grantor)), zap.String("grantee", string(grantee)))
	s.events.Publish(events.SubjectGrantChanged, events.GrantChanged{
		Grantor: string(grantor),
		Grantee: string(grantee),
		Action:  "revoked",
		At:      time.Now().UTC(),
	})
	return nil
}

// ListGrants returns grants involving the given tenant as grantor or
// grantee, or every grant when id is empty.
func (s *Service) ListGrants(ctx context.Context, id tenant.ID) ([]GrantRecord, error) {
	var out []GrantRecord
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT grantor, grantee, created_at FROM tenant_read_grants
			 WHERE $1 = '' OR grantor = $1 OR grantee = $1
			 ORDER BY grantor, grantee`,
			string(id),
		)
		if err != nil {
			return fmt.Errorf("list grants: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var rec GrantRecord
			var grantor, grantee string
			if err := rows.Scan(&grantor, &grantee, &rec.CreatedAt); err != nil {
				return fmt.Errorf("scan grant: %w", err)
			}
			rec.Grant = tenant.Grant{Grantor: tenant.ID(grantor), Grantee: tenant.ID(grantee)}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Service) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin control-plane transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const tenantSelect = `
	SELECT t.id, t.display_name, t.access_level, t.created_at, COALESCE(e.phase, '')
	FROM tenants t LEFT JOIN tenant_enforcement e ON e.tenant_id = t.id`

func scanTenant(row pgx.Row, out *Tenant) error {
	var id, level, phase string
	if err := row.Scan(&id, &out.DisplayName, &level, &out.CreatedAt, &phase); err != nil {
		return err
	}
	out.ID = tenant.ID(id)
	out.Level = tenant.AccessLevel(level)
	if p, err := enforcement.ParsePhase(phase); err == nil {
		out.Phase = p
	} else {
		out.Phase = enforcement.PhaseUnknown
	}
	return nil
}

// querier is the row-reading subset shared by pgx.Tx and pgxpool.Pool.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Exists reports whether the tenant is registered, using the caller's
// querier so data-plane checks stay inside the request transaction.
func Exists(ctx context.Context, q querier, id tenant.ID) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, string(id),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("look up tenant: %w", err)
	}
	return exists, nil
}

// AccessLevelOf reads a tenant's configured access level inside the
// caller's transaction. Unregistered ids fail with ErrUnknownTenant and a
// stored level outside the closed set fails with ErrInvalidTenant; neither
// is ever defaulted, so a registry corruption fails closed.
func AccessLevelOf(ctx context.Context, q querier, id tenant.ID) (tenant.AccessLevel, error) {
	var raw string
	err := q.QueryRow(ctx,
		`SELECT access_level FROM tenants WHERE id = $1`, string(id),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, id)
	}
	if err != nil {
		return "", fmt.Errorf("look up access level: %w", err)
	}
	return tenant.ParseAccessLevel(raw)
}

// GrantsFor reads every grant where the given tenant is the grantee, using
// the caller's querier. This is the read WithTenant resolves scopes from.
func GrantsFor(ctx context.Context, q querier, grantee tenant.ID) ([]tenant.Grant, error) {
	rows, err := q.Query(ctx,
		`SELECT grantor, grantee FROM tenant_read_grants WHERE grantee = $1`,
		string(grantee),
	)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	defer rows.Close()

	var grants []tenant.Grant
	for rows.Next() {
		var grantor, g string
		if err := rows.Scan(&grantor, &g); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, tenant.Grant{Grantor: tenant.ID(grantor), Grantee: tenant.ID(g)})
	}
	return grants, rows.Err()
}
