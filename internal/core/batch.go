package core

// batch.go defines the durable side of an import: batches, their records,
// and the append-only execution log. A batch is the unit of execution and
// rollback; records are the per-row outcomes inside it.

import (
	"time"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/schema"
)

// BatchStatus tracks a batch through its lifecycle. Once a batch leaves
// pending its file set and records are frozen; only the status, counts, and
// log move after that.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchRunning    BatchStatus = "running"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchRolledBack BatchStatus = "rolled_back"
)

// batchTransitions is the only legal status graph. BatchFailed marks an
// execution that died on infrastructure (store down, panic), not a batch
// whose records individually failed; those batches complete.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:   {BatchRunning, BatchFailed},
	BatchRunning:   {BatchCompleted, BatchFailed},
	BatchCompleted: {BatchRolledBack},
}

// CanTransition reports whether a batch may move from one status to
// another.
func CanTransition(from, to BatchStatus) bool {
	for _, next := range batchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ImportBatch is one execution of an import session, or of a correction.
// OriginalBatchID is set only on correction batches and names the batch
// whose failed records are being re-imported.
type ImportBatch struct {
	ID              uuid.UUID   `json:"id"`
	Org             uuid.UUID   `json:"organizationId"`
	SessionID       uuid.UUID   `json:"sessionId,omitempty"`
	OriginalBatchID uuid.UUID   `json:"originalBatchId,omitempty"`
	Status          BatchStatus `json:"status"`
	Files           []string    `json:"files,omitempty"`
	TotalRecords    int         `json:"totalRecords"`
	ImportedCount   int         `json:"importedCount"`
	FailedCount     int         `json:"failedCount"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	StartedAt       time.Time   `json:"startedAt,omitempty"`
	FinishedAt      time.Time   `json:"finishedAt,omitempty"`
}

// IsCorrection reports whether this batch re-imports another batch's
// failures.
func (b *ImportBatch) IsCorrection() bool {
	return b.OriginalBatchID != uuid.Nil
}

// RecordStatus tracks one row through execution. A record settles exactly
// once: failed records are corrected through a new batch, never retried in
// place.
type RecordStatus string

const (
	RecordPending  RecordStatus = "pending"
	RecordImported RecordStatus = "imported"
	RecordFailed   RecordStatus = "failed"
)

// ImportRecord is one data row captured when the batch is created. Fields
// holds the cleaned cell values keyed by column name, exactly as uploaded,
// so a failed record carries everything needed to correct it. Mapping
// decisions apply during execution, not to the snapshot.
type ImportRecord struct {
	ID         uuid.UUID         `json:"id"`
	BatchID    uuid.UUID         `json:"batchId"`
	Org        uuid.UUID         `json:"organizationId"`
	Type       schema.EntityType `json:"entityType"`
	ExternalID string            `json:"externalId"`
	File       string            `json:"file,omitempty"`
	Row        int               `json:"row,omitempty"`
	Fields     map[string]string `json:"fields"`
	Status     RecordStatus      `json:"status"`
	Message    string            `json:"message,omitempty"`
	EntityID   uuid.UUID         `json:"entityId,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// LogEvent names what happened at one point of a batch's life.
type LogEvent string

const (
	LogBatchCreated   LogEvent = "batch_created"
	LogBatchStarted   LogEvent = "batch_started"
	LogTypeStarted    LogEvent = "type_started"
	LogTypeCompleted  LogEvent = "type_completed"
	LogTypeSkipped    LogEvent = "type_skipped"
	LogRecordFailed   LogEvent = "record_failed"
	LogValueCreated   LogEvent = "value_created"
	LogCorrection     LogEvent = "correction_created"
	LogBatchCompleted LogEvent = "batch_completed"
	LogBatchFailed    LogEvent = "batch_failed"
	LogRolledBack     LogEvent = "rolled_back"
)

// ImportLogEntry is one line of a batch's audit trail. Entries are only
// ever appended; nothing updates or deletes them.
type ImportLogEntry struct {
	ID       uuid.UUID         `json:"id"`
	BatchID  uuid.UUID         `json:"batchId"`
	Org      uuid.UUID         `json:"organizationId"`
	At       time.Time         `json:"at"`
	Event    LogEvent          `json:"event"`
	Type     schema.EntityType `json:"entityType,omitempty"`
	RecordID uuid.UUID         `json:"recordId,omitempty"`
	Message  string            `json:"message,omitempty"`
}
