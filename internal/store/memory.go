package store

// memory.go keeps everything in maps under one RWMutex. Entities are never
// deleted, only voided; voided entities drop out of the live index and stop
// resolving.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/core"
	"github.com/casevault/importer/internal/schema"
)

var (
	_ core.RecordStore = (*Memory)(nil)
	_ core.BatchStore  = (*Memory)(nil)
)

// Entity is a stored case-management entity as Memory keeps it.
type Entity struct {
	ID         uuid.UUID
	Org        uuid.UUID
	Type       schema.EntityType
	ExternalID string
	BatchID    uuid.UUID
	Fields     map[string]string
	References map[string]uuid.UUID
	Void       bool
	CreatedAt  time.Time
}

// Memory implements core.RecordStore and core.BatchStore with in-process
// maps. Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	entities  map[uuid.UUID]*Entity
	liveByKey map[string]uuid.UUID
	values    map[string][]core.CanonicalValue
	batches   map[uuid.UUID]*core.ImportBatch
	records   map[uuid.UUID]*core.ImportRecord
	byBatch   map[uuid.UUID][]uuid.UUID
	log       map[uuid.UUID][]*core.ImportLogEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entities:  make(map[uuid.UUID]*Entity),
		liveByKey: make(map[string]uuid.UUID),
		values:    make(map[string][]core.CanonicalValue),
		batches:   make(map[uuid.UUID]*core.ImportBatch),
		records:   make(map[uuid.UUID]*core.ImportRecord),
		byBatch:   make(map[uuid.UUID][]uuid.UUID),
		log:       make(map[uuid.UUID][]*core.ImportLogEntry),
	}
}

func entityKey(org uuid.UUID, typ schema.EntityType, externalID string) string {
	return org.String() + "|" + string(typ) + "|" + strings.ToLower(externalID)
}

func valueKey(org uuid.UUID, category string) string {
	return org.String() + "|" + category
}

// CreateEntity stores one entity. A live entity with the same organization,
// type, and external ID (case-insensitive) is a duplicate.
func (m *Memory) CreateEntity(ctx context.Context, e core.NewEntity) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey(e.Org, e.Type, e.ExternalID)
	if _, exists := m.liveByKey[key]; exists {
		return uuid.Nil, fmt.Errorf("%s %q: %w", e.Type, e.ExternalID, core.ErrDuplicateEntity)
	}

	fields := make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	refs := make(map[string]uuid.UUID, len(e.References))
	for k, v := range e.References {
		refs[k] = v
	}

	ent := &Entity{
		ID:         uuid.New(),
		Org:        e.Org,
		Type:       e.Type,
		ExternalID: e.ExternalID,
		BatchID:    e.BatchID,
		Fields:     fields,
		References: refs,
		CreatedAt:  time.Now(),
	}
	m.entities[ent.ID] = ent
	m.liveByKey[key] = ent.ID
	return ent.ID, nil
}

// LookupByExternalID resolves one external ID to a live entity.
func (m *Memory) LookupByExternalID(ctx context.Context, org uuid.UUID, typ schema.EntityType, externalID string) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.liveByKey[entityKey(org, typ, externalID)]
	return id, ok, nil
}

// ResolveExternalIDs resolves many external IDs at once. The result is
// keyed by the stored spelling; IDs with no live entity are absent.
func (m *Memory) ResolveExternalIDs(ctx context.Context, org uuid.UUID, typ schema.EntityType, externalIDs []string) (map[string]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]uuid.UUID, len(externalIDs))
	for _, extID := range externalIDs {
		if id, ok := m.liveByKey[entityKey(org, typ, extID)]; ok {
			out[m.entities[id].ExternalID] = id
		}
	}
	return out, nil
}

// ListCanonicalValues returns one organization's vocabulary for a category,
// sorted by value.
func (m *Memory) ListCanonicalValues(ctx context.Context, org uuid.UUID, category string) ([]core.CanonicalValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.values[valueKey(org, category)]
	out := make([]core.CanonicalValue, len(list))
	copy(out, list)
	return out, nil
}

// CreateCanonicalValue adds a vocabulary entry. Creating a value that
// already exists, compared case-insensitively, returns the existing entry.
func (m *Memory) CreateCanonicalValue(ctx context.Context, org uuid.UUID, category, value string) (core.CanonicalValue, error) {
	if err := ctx.Err(); err != nil {
		return core.CanonicalValue{}, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return core.CanonicalValue{}, fmt.Errorf("canonical value must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := valueKey(org, category)
	for _, cv := range m.values[key] {
		if strings.EqualFold(cv.Value, value) {
			return cv, nil
		}
	}

	cv := core.CanonicalValue{ID: uuid.New(), Org: org, Category: category, Value: value}
	m.values[key] = append(m.values[key], cv)
	sort.Slice(m.values[key], func(a, b int) bool {
		return m.values[key][a].Value < m.values[key][b].Value
	})
	return cv, nil
}

// VoidBatchEntities voids every live entity the batch created.
func (m *Memory) VoidBatchEntities(ctx context.Context, org uuid.UUID, batchID uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, ent := range m.entities {
		if ent.Org != org || ent.BatchID != batchID || ent.Void {
			continue
		}
		ent.Void = true
		delete(m.liveByKey, entityKey(ent.Org, ent.Type, ent.ExternalID))
		n++
	}
	return n, nil
}

// Entity returns a stored entity by internal ID, voided or not.
func (m *Memory) Entity(id uuid.UUID) (Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ent, ok := m.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *ent, true
}

// CreateBatch stores a new batch.
func (m *Memory) CreateBatch(ctx context.Context, b *core.ImportBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[b.ID]; exists {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	cp := *b
	cp.Files = append([]string(nil), b.Files...)
	m.batches[cp.ID] = &cp
	return nil
}

// GetBatch returns one batch.
func (m *Memory) GetBatch(ctx context.Context, org, id uuid.UUID) (*core.ImportBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok || b.Org != org {
		return nil, core.ErrBatchNotFound
	}
	cp := *b
	cp.Files = append([]string(nil), b.Files...)
	return &cp, nil
}

// ListBatches returns the organization's batches, newest first.
func (m *Memory) ListBatches(ctx context.Context, org uuid.UUID) ([]*core.ImportBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.ImportBatch
	for _, b := range m.batches {
		if b.Org != org {
			continue
		}
		cp := *b
		cp.Files = append([]string(nil), b.Files...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID.String() > out[b].ID.String()
	})
	return out, nil
}

// SetBatchStatus moves a batch from one status to another, failing when the
// batch is not currently in from or the move is not legal.
func (m *Memory) SetBatchStatus(ctx context.Context, org, id uuid.UUID, from, to core.BatchStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok || b.Org != org {
		return core.ErrBatchNotFound
	}
	if !core.CanTransition(from, to) {
		return fmt.Errorf("%w: %s to %s", core.ErrInvalidTransition, from, to)
	}
	if b.Status != from {
		return fmt.Errorf("%w: batch is %s, not %s", core.ErrInvalidTransition, b.Status, from)
	}
	b.Status = to
	if to == core.BatchRunning {
		b.StartedAt = time.Now()
	}
	return nil
}

// FinishBatch closes a batch with its final counts and error text.
func (m *Memory) FinishBatch(ctx context.Context, org, id uuid.UUID, to core.BatchStatus, imported, failed int, execErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok || b.Org != org {
		return core.ErrBatchNotFound
	}
	if !core.CanTransition(b.Status, to) {
		return fmt.Errorf("%w: batch is %s, cannot finish as %s", core.ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	b.ImportedCount = imported
	b.FailedCount = failed
	b.Error = execErr
	b.FinishedAt = time.Now()
	return nil
}

// CreateRecords stores a batch's record snapshot.
func (m *Memory) CreateRecords(ctx context.Context, records []*core.ImportRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		if _, exists := m.records[r.ID]; exists {
			return fmt.Errorf("record %s already exists", r.ID)
		}
	}
	for _, r := range records {
		cp := *r
		cp.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			cp.Fields[k] = v
		}
		m.records[cp.ID] = &cp
		m.byBatch[cp.BatchID] = append(m.byBatch[cp.BatchID], cp.ID)
	}
	return nil
}

// ListRecords returns a batch's records in creation order, optionally
// narrowed by status.
func (m *Memory) ListRecords(ctx context.Context, org, batchID uuid.UUID, status core.RecordStatus) ([]*core.ImportRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.ImportRecord
	for _, id := range m.byBatch[batchID] {
		r := m.records[id]
		if r.Org != org {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, copyRecord(r))
	}
	return out, nil
}

// GetRecord returns one record.
func (m *Memory) GetRecord(ctx context.Context, org, id uuid.UUID) (*core.ImportRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok || r.Org != org {
		return nil, core.ErrRecordNotFound
	}
	return copyRecord(r), nil
}

// SetRecordResult settles one pending record. Settled records never move
// again.
func (m *Memory) SetRecordResult(ctx context.Context, org, id uuid.UUID, status core.RecordStatus, entityID uuid.UUID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok || r.Org != org {
		return core.ErrRecordNotFound
	}
	if r.Status != core.RecordPending {
		return fmt.Errorf("record %s: %w", id, core.ErrRecordSettled)
	}
	if status != core.RecordImported && status != core.RecordFailed {
		return fmt.Errorf("record %s: cannot settle to %s", id, status)
	}
	r.Status = status
	r.EntityID = entityID
	r.Message = message
	r.UpdatedAt = time.Now()
	return nil
}

// AppendLog appends one audit entry. Nothing ever updates or removes
// entries.
func (m *Memory) AppendLog(ctx context.Context, entry *core.ImportLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.log[cp.BatchID] = append(m.log[cp.BatchID], &cp)
	return nil
}

// ListLog returns a batch's audit trail in append order.
func (m *Memory) ListLog(ctx context.Context, org, batchID uuid.UUID) ([]*core.ImportLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.ImportLogEntry
	for _, entry := range m.log[batchID] {
		if entry.Org != org {
			continue
		}
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

func copyRecord(r *core.ImportRecord) *core.ImportRecord {
	cp := *r
	cp.Fields = make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return &cp
}
