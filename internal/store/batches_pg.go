package store

// batches_pg.go is the import bookkeeping side of the Postgres store:
// batches, their record snapshots, and the append-only log. Status moves
// are guarded in SQL with a WHERE on the current status, so two processes
// can never both claim the same transition.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/casevault/importer/internal/core"
	"github.com/casevault/importer/internal/schema"
)

func nullableUUID(u uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: u, Valid: u != uuid.Nil}
}

func uuidValue(v pgtype.UUID) uuid.UUID {
	if !v.Valid {
		return uuid.Nil
	}
	return uuid.UUID(v.Bytes)
}

func nullableTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func timeValue(v pgtype.Timestamptz) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time
}

const batchColumns = `id, organization_id, session_id, original_batch_id, status, files,
	total_records, imported_count, failed_count, error, created_at, started_at, finished_at`

func scanBatch(row pgx.Row) (*core.ImportBatch, error) {
	var (
		b        core.ImportBatch
		session  pgtype.UUID
		original pgtype.UUID
		status   string
		started  pgtype.Timestamptz
		finished pgtype.Timestamptz
	)
	err := row.Scan(&b.ID, &b.Org, &session, &original, &status, &b.Files,
		&b.TotalRecords, &b.ImportedCount, &b.FailedCount, &b.Error, &b.CreatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}
	b.SessionID = uuidValue(session)
	b.OriginalBatchID = uuidValue(original)
	b.Status = core.BatchStatus(status)
	b.StartedAt = timeValue(started)
	b.FinishedAt = timeValue(finished)
	return &b, nil
}

// CreateBatch stores a new batch.
func (p *Postgres) CreateBatch(ctx context.Context, b *core.ImportBatch) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO import_batches (id, organization_id, session_id, original_batch_id, status, files,
			total_records, imported_count, failed_count, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.Org, nullableUUID(b.SessionID), nullableUUID(b.OriginalBatchID), string(b.Status),
		b.Files, b.TotalRecords, b.ImportedCount, b.FailedCount, b.Error, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetBatch returns one batch.
func (p *Postgres) GetBatch(ctx context.Context, org, id uuid.UUID) (*core.ImportBatch, error) {
	b, err := scanBatch(p.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM import_batches WHERE id = $1 AND organization_id = $2`,
		id, org,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns the organization's batches, newest first.
func (p *Postgres) ListBatches(ctx context.Context, org uuid.UUID) ([]*core.ImportBatch, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM import_batches WHERE organization_id = $1 ORDER BY created_at DESC, id DESC`,
		org,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*core.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return out, nil
}

// SetBatchStatus moves a batch from one status to another. The WHERE on the
// current status makes the move atomic.
func (p *Postgres) SetBatchStatus(ctx context.Context, org, id uuid.UUID, from, to core.BatchStatus) error {
	if !core.CanTransition(from, to) {
		return fmt.Errorf("%w: %s to %s", core.ErrInvalidTransition, from, to)
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if to == core.BatchRunning {
		tag, err = p.pool.Exec(ctx, `
			UPDATE import_batches SET status = $1, started_at = now()
			WHERE id = $2 AND organization_id = $3 AND status = $4`,
			string(to), id, org, string(from))
	} else {
		tag, err = p.pool.Exec(ctx, `
			UPDATE import_batches SET status = $1
			WHERE id = $2 AND organization_id = $3 AND status = $4`,
			string(to), id, org, string(from))
	}
	if err != nil {
		return fmt.Errorf("set batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.explainBatchMiss(ctx, org, id, from)
	}
	return nil
}

// FinishBatch closes a batch with its final counts and error text. Legal
// starting statuses are derived from the transition graph.
func (p *Postgres) FinishBatch(ctx context.Context, org, id uuid.UUID, to core.BatchStatus, imported, failed int, execErr string) error {
	froms := finishableFrom(to)
	if len(froms) == 0 {
		return fmt.Errorf("%w: nothing may finish as %s", core.ErrInvalidTransition, to)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE import_batches
		SET status = $1, imported_count = $2, failed_count = $3, error = $4, finished_at = now()
		WHERE id = $5 AND organization_id = $6 AND status = ANY($7)`,
		string(to), imported, failed, execErr, id, org, froms,
	)
	if err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.explainBatchMiss(ctx, org, id, "")
	}
	return nil
}

// explainBatchMiss turns a zero-row status update into the right error:
// the batch is gone, or it sits in a status the move is not legal from.
func (p *Postgres) explainBatchMiss(ctx context.Context, org, id uuid.UUID, want core.BatchStatus) error {
	var current string
	err := p.pool.QueryRow(ctx,
		`SELECT status FROM import_batches WHERE id = $1 AND organization_id = $2`,
		id, org,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrBatchNotFound
	}
	if err != nil {
		return fmt.Errorf("get batch status: %w", err)
	}
	if want != "" {
		return fmt.Errorf("%w: batch is %s, not %s", core.ErrInvalidTransition, current, want)
	}
	return fmt.Errorf("%w: batch is %s", core.ErrInvalidTransition, current)
}

func finishableFrom(to core.BatchStatus) []string {
	all := []core.BatchStatus{
		core.BatchPending, core.BatchRunning, core.BatchCompleted,
		core.BatchFailed, core.BatchRolledBack,
	}
	var froms []string
	for _, st := range all {
		if core.CanTransition(st, to) {
			froms = append(froms, string(st))
		}
	}
	return froms
}

// CreateRecords stores a batch's record snapshot in one round trip.
func (p *Postgres) CreateRecords(ctx context.Context, records []*core.ImportRecord) error {
	if len(records) == 0 {
		return nil
	}

	var batch pgx.Batch
	for _, r := range records {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("marshal record fields: %w", err)
		}
		batch.Queue(`
			INSERT INTO import_records (id, batch_id, organization_id, entity_type, external_id,
				file_name, row_number, fields, status, message, entity_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			r.ID, r.BatchID, r.Org, string(r.Type), r.ExternalID,
			r.File, r.Row, fields, string(r.Status), r.Message, nullableUUID(r.EntityID),
			r.CreatedAt, r.UpdatedAt)
	}

	br := p.pool.SendBatch(ctx, &batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return nil
}

const recordColumns = `id, batch_id, organization_id, entity_type, external_id,
	file_name, row_number, fields, status, message, entity_id, created_at, updated_at`

func scanRecord(row pgx.Row) (*core.ImportRecord, error) {
	var (
		r        core.ImportRecord
		typ      string
		fields   []byte
		status   string
		entityID pgtype.UUID
	)
	err := row.Scan(&r.ID, &r.BatchID, &r.Org, &typ, &r.ExternalID,
		&r.File, &r.Row, &fields, &status, &r.Message, &entityID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = schema.EntityType(typ)
	r.Status = core.RecordStatus(status)
	r.EntityID = uuidValue(entityID)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &r.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal record fields: %w", err)
		}
	}
	return &r, nil
}

// ListRecords returns a batch's records in creation order, optionally
// narrowed by status.
func (p *Postgres) ListRecords(ctx context.Context, org, batchID uuid.UUID, status core.RecordStatus) ([]*core.ImportRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM import_records
		WHERE batch_id = $1 AND organization_id = $2`
	args := []any{batchID, org}
	if status != "" {
		query += ` AND status = $3`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*core.ImportRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// GetRecord returns one record.
func (p *Postgres) GetRecord(ctx context.Context, org, id uuid.UUID) (*core.ImportRecord, error) {
	r, err := scanRecord(p.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM import_records WHERE id = $1 AND organization_id = $2`,
		id, org,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// SetRecordResult settles one pending record. The WHERE on pending makes
// settling once a database guarantee.
func (p *Postgres) SetRecordResult(ctx context.Context, org, id uuid.UUID, status core.RecordStatus, entityID uuid.UUID, message string) error {
	if status != core.RecordImported && status != core.RecordFailed {
		return fmt.Errorf("record %s: cannot settle to %s", id, status)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE import_records
		SET status = $1, entity_id = $2, message = $3, updated_at = now()
		WHERE id = $4 AND organization_id = $5 AND status = 'pending'`,
		string(status), nullableUUID(entityID), message, id, org,
	)
	if err != nil {
		return fmt.Errorf("set record result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := p.pool.QueryRow(ctx,
			`SELECT status FROM import_records WHERE id = $1 AND organization_id = $2`,
			id, org,
		).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("get record status: %w", err)
		}
		return fmt.Errorf("record %s is %s: %w", id, current, core.ErrRecordSettled)
	}
	return nil
}

// AppendLog appends one audit entry. Nothing ever updates or removes
// entries.
func (p *Postgres) AppendLog(ctx context.Context, entry *core.ImportLogEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO import_log (id, batch_id, organization_id, logged_at, event, entity_type, record_id, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.BatchID, entry.Org, entry.At, string(entry.Event),
		string(entry.Type), nullableUUID(entry.RecordID), entry.Message,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// ListLog returns a batch's audit trail in append order.
func (p *Postgres) ListLog(ctx context.Context, org, batchID uuid.UUID) ([]*core.ImportLogEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, batch_id, organization_id, logged_at, event, entity_type, record_id, message
		FROM import_log
		WHERE batch_id = $1 AND organization_id = $2
		ORDER BY seq`,
		batchID, org,
	)
	if err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}
	defer rows.Close()

	var out []*core.ImportLogEntry
	for rows.Next() {
		var (
			e        core.ImportLogEntry
			event    string
			typ      string
			recordID pgtype.UUID
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Org, &e.At, &event, &typ, &recordID, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Event = core.LogEvent(event)
		e.Type = schema.EntityType(typ)
		e.RecordID = uuidValue(recordID)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}
	return out, nil
}
