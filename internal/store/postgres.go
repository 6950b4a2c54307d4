package store

// postgres.go is the entity side of the Postgres store: the tables imports
// write into and the canonical vocabulary. Batch bookkeeping lives in
// batches_pg.go, pool setup and migrations in migrate.go.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casevault/importer/internal/core"
	"github.com/casevault/importer/internal/schema"
)

var (
	_ core.RecordStore = (*Postgres)(nil)
	_ core.BatchStore  = (*Postgres)(nil)
)

// Postgres implements core.RecordStore and core.BatchStore over a pgx
// connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool. The caller owns the pool's lifetime.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateEntity stores one entity. The partial unique index on live rows
// turns a duplicate external ID into ErrDuplicateEntity.
func (p *Postgres) CreateEntity(ctx context.Context, e core.NewEntity) (uuid.UUID, error) {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal entity fields: %w", err)
	}
	refs, err := json.Marshal(e.References)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal entity references: %w", err)
	}

	var id uuid.UUID
	err = p.pool.QueryRow(ctx, `
		INSERT INTO entities (organization_id, entity_type, external_id, batch_id, fields, reference_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.Org, string(e.Type), e.ExternalID, e.BatchID, fields, refs,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%s %q: %w", e.Type, e.ExternalID, core.ErrDuplicateEntity)
		}
		return uuid.Nil, fmt.Errorf("insert entity: %w", err)
	}
	return id, nil
}

// LookupByExternalID resolves one external ID to a live entity.
func (p *Postgres) LookupByExternalID(ctx context.Context, org uuid.UUID, typ schema.EntityType, externalID string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := p.pool.QueryRow(ctx, `
		SELECT id FROM entities
		WHERE organization_id = $1 AND entity_type = $2 AND lower(external_id) = lower($3) AND NOT void`,
		org, string(typ), externalID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lookup entity: %w", err)
	}
	return id, true, nil
}

// ResolveExternalIDs resolves many external IDs in one query. The result is
// keyed by the stored spelling; IDs with no live entity are absent.
func (p *Postgres) ResolveExternalIDs(ctx context.Context, org uuid.UUID, typ schema.EntityType, externalIDs []string) (map[string]uuid.UUID, error) {
	if len(externalIDs) == 0 {
		return map[string]uuid.UUID{}, nil
	}
	folded := make([]string, len(externalIDs))
	for i, id := range externalIDs {
		folded[i] = strings.ToLower(id)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, external_id FROM entities
		WHERE organization_id = $1 AND entity_type = $2 AND lower(external_id) = ANY($3) AND NOT void`,
		org, string(typ), folded,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve external ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uuid.UUID, len(externalIDs))
	for rows.Next() {
		var (
			id    uuid.UUID
			extID string
		)
		if err := rows.Scan(&id, &extID); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		out[extID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve external ids: %w", err)
	}
	return out, nil
}

// ListCanonicalValues returns one organization's vocabulary for a category,
// sorted by value.
func (p *Postgres) ListCanonicalValues(ctx context.Context, org uuid.UUID, category string) ([]core.CanonicalValue, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, organization_id, category, value FROM canonical_values
		WHERE organization_id = $1 AND category = $2
		ORDER BY value`,
		org, category,
	)
	if err != nil {
		return nil, fmt.Errorf("list canonical values: %w", err)
	}
	defer rows.Close()

	var out []core.CanonicalValue
	for rows.Next() {
		var cv core.CanonicalValue
		if err := rows.Scan(&cv.ID, &cv.Org, &cv.Category, &cv.Value); err != nil {
			return nil, fmt.Errorf("scan canonical value: %w", err)
		}
		out = append(out, cv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list canonical values: %w", err)
	}
	return out, nil
}

// CreateCanonicalValue adds a vocabulary entry, returning the existing one
// when the value is already present under a case-insensitive match.
func (p *Postgres) CreateCanonicalValue(ctx context.Context, org uuid.UUID, category, value string) (core.CanonicalValue, error) {
	cv := core.CanonicalValue{Org: org, Category: category, Value: value}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO canonical_values (organization_id, category, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, category, lower(value)) DO NOTHING
		RETURNING id`,
		org, category, value,
	).Scan(&cv.ID)
	if err == nil {
		return cv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return core.CanonicalValue{}, fmt.Errorf("insert canonical value: %w", err)
	}

	// Conflict: the value exists, possibly spelled differently.
	err = p.pool.QueryRow(ctx, `
		SELECT id, value FROM canonical_values
		WHERE organization_id = $1 AND category = $2 AND lower(value) = lower($3)`,
		org, category, value,
	).Scan(&cv.ID, &cv.Value)
	if err != nil {
		return core.CanonicalValue{}, fmt.Errorf("fetch canonical value: %w", err)
	}
	return cv, nil
}

// VoidBatchEntities voids every live entity the batch created.
func (p *Postgres) VoidBatchEntities(ctx context.Context, org uuid.UUID, batchID uuid.UUID) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE entities SET void = TRUE
		WHERE organization_id = $1 AND batch_id = $2 AND NOT void`,
		org, batchID,
	)
	if err != nil {
		return 0, fmt.Errorf("void batch entities: %w", err)
	}
	return tag.RowsAffected(), nil
}
