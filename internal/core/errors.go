package core

// errors.go maps technical failures to user-facing messages and defines the
// sentinel errors the pipeline is steered by.
//
// Error codes are grouped by category so support staff can look them up:
//
//	IMP001-IMP006  import execution (duplicates, references, store failures)
//	VAL001-VAL005  validation (formats, missing columns)
//	FILE001-FILE004 file handling (size, encoding, shape)
//	SES001-SES004  session lifecycle (state, not found, busy)
//	ERR000         fallback when nothing matches
//
// Patterns are matched case-insensitively with strings.Contains; the first
// match wins, so specific patterns sit above general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for callers that branch on outcome rather than message.
var (
	ErrSessionNotFound    = errors.New("import session not found")
	ErrBatchNotFound      = errors.New("import batch not found")
	ErrFileRejected       = errors.New("file could not be parsed")
	ErrFileNotFound       = errors.New("file is not part of this session")
	ErrRecordNotFound     = errors.New("import record not found")
	ErrCorrectionNotFound = errors.New("correction draft not found")
	ErrInvalidState       = errors.New("operation not allowed in the session's current state")
	ErrInvalidTransition  = errors.New("illegal batch status transition")
	ErrValidationFailed   = errors.New("validation reported blocking errors")
	ErrUnresolvedValues   = errors.New("category values are still unmapped")
	ErrRecordSettled      = errors.New("record already settled")
	ErrDuplicateEntity    = errors.New("entity already exists for this external ID")
	ErrNotRollbackable    = errors.New("only completed batches can be rolled back")
	ErrNothingToCorrect   = errors.New("batch has no failed records")
	ErrImportBusy         = errors.New("too many imports in progress")
)

// UserMessage is user-facing error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference code
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Import Execution Errors (IMP001-IMP006)
	// =========================================================================
	{
		pattern: "already exists for this external id",
		msg: UserMessage{
			Message: "A record with this source ID was already imported",
			Action:  "Remove the duplicate row or roll back the earlier batch first",
			Code:    "IMP001",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this source ID was already imported",
			Action:  "Remove the duplicate row or roll back the earlier batch first",
			Code:    "IMP001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check your files for duplicate identifiers",
			Code:    "IMP001",
		},
	},
	{
		pattern: "unresolved reference",
		msg: UserMessage{
			Message: "A row points at a record that does not exist",
			Action:  "Include the referenced record in the import or fix the ID",
			Code:    "IMP002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "A row points at a record that does not exist",
			Action:  "Include the referenced record in the import or fix the ID",
			Code:    "IMP002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach the database",
			Action:  "Please try again in a few moments",
			Code:    "IMP003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The database connection was interrupted",
			Action:  "Please try again",
			Code:    "IMP004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "The database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "IMP005",
		},
	},
	{
		pattern: "only completed batches",
		msg: UserMessage{
			Message: "This batch cannot be rolled back",
			Action:  "Only completed batches that have not been rolled back qualify",
			Code:    "IMP006",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL005)
	// =========================================================================
	{
		pattern: "not a valid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
			Code:    "VAL001",
		},
	},
	{
		pattern: "not a valid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Remove currency symbols and use plain decimals",
			Code:    "VAL002",
		},
	},
	{
		pattern: "required value is missing",
		msg: UserMessage{
			Message: "A required field is empty",
			Action:  "Fill every required column before importing",
			Code:    "VAL003",
		},
	},
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "A required column is missing from the file",
			Action:  "Download the template and match its headers",
			Code:    "VAL004",
		},
	},
	{
		pattern: "validation reported blocking errors",
		msg: UserMessage{
			Message: "The uploaded files did not pass validation",
			Action:  "Fix every reported error and validate again",
			Code:    "VAL005",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE004)
	// =========================================================================
	{
		pattern: "exceeds the",
		msg: UserMessage{
			Message: "The file is larger than the upload limit",
			Action:  "Split the export into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "cannot determine entity type",
		msg: UserMessage{
			Message: "The file could not be matched to a known record type",
			Action:  "Name the file after its record type or use template headers",
			Code:    "FILE002",
		},
	},
	{
		pattern: "file is empty",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Upload a file with a header row and data rows",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Choose an export file to upload",
			Code:    "FILE004",
		},
	},

	// =========================================================================
	// Session Errors (SES001-SES004)
	// =========================================================================
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Import session not found",
			Action:  "The session may have expired. Start a new import",
			Code:    "SES001",
		},
	},
	{
		pattern: "current state",
		msg: UserMessage{
			Message: "That step is not available right now",
			Action:  "Finish the previous step of the import first",
			Code:    "SES002",
		},
	},
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "The system is busy with other imports",
			Action:  "Please wait a moment and try again",
			Code:    "SES003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The request was cancelled",
			Action:  "Please try again",
			Code:    "SES004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The request timed out",
			Action:  "Try a smaller upload or check your connection",
			Code:    "SES004",
		},
	},
}

// defaultMessage is the ERR000 fallback. Support staff should check the
// logs for the original technical error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Unmatched
// errors map to the ERR000 fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders an error for display as
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether the error matched a specific pattern rather
// than the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs the original technical error with its mapped message so
// handlers can log one and show the other.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError wraps err with its mapped user message. Returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
