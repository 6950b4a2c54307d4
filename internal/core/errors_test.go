package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// ----------------------------------------------------------------------------
// Error Mapping Tests
// ----------------------------------------------------------------------------

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"duplicate entity", ErrDuplicateEntity, "IMP001"},
		{"postgres duplicate key", errors.New(`ERROR: duplicate key value violates unique constraint "entities_org_type_ext"`), "IMP001"},
		{"unresolved reference", errors.New(`unresolved reference: organizations "ORG-9" does not exist`), "IMP002"},
		{"foreign key violation", errors.New("insert or update violates foreign key constraint"), "IMP002"},
		{"connection refused ignores case", errors.New("dial tcp 127.0.0.1:5432: CONNECTION REFUSED"), "IMP003"},
		{"connection reset", errors.New("read tcp: connection reset by peer"), "IMP004"},
		{"deadlock", errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), "IMP005"},
		{"not rollbackable", ErrNotRollbackable, "IMP006"},
		{"bad date", errors.New(`"13/45/2020" is not a valid date`), "VAL001"},
		{"bad number", errors.New(`"12abc" is not a valid number`), "VAL002"},
		{"missing value", errors.New("required value is missing"), "VAL003"},
		{"missing column", errors.New(`missing required column "email"`), "VAL004"},
		{"validation failed", ErrValidationFailed, "VAL005"},
		{"file too large", errors.New("file exceeds the 25 MB upload limit"), "FILE001"},
		{"unknown file type", errors.New(`cannot determine entity type for "mystery.csv"`), "FILE002"},
		{"empty file", errors.New("file is empty"), "FILE003"},
		{"no file", errors.New("no file provided"), "FILE004"},
		{"session missing", ErrSessionNotFound, "SES001"},
		{"wrong state", ErrInvalidState, "SES002"},
		{"busy", ErrImportBusy, "SES003"},
		{"canceled", context.Canceled, "SES004"},
		{"deadline", context.DeadlineExceeded, "SES004"},
		{"wrapped errors still match", fmt.Errorf("create entity: %w", ErrDuplicateEntity), "IMP001"},
		{"unknown", errors.New("somewhat novel failure"), "ERR000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err).Code; got != tt.wantCode {
				t.Errorf("MapError(%v).Code = %s, want %s", tt.err, got, tt.wantCode)
			}
		})
	}
}

func TestMapError_FirstMatchWins(t *testing.T) {
	// "duplicate key" and "unique constraint" both match; the earlier,
	// more specific pattern decides the message.
	got := MapError(errors.New("duplicate key value violates unique constraint"))
	if got.Code != "IMP001" || got.Message != "A record with this source ID was already imported" {
		t.Errorf("MapError = %q (%s), want the duplicate key message", got.Message, got.Code)
	}
}

func TestMapError_Nil(t *testing.T) {
	if got := MapError(nil); got != (UserMessage{}) {
		t.Errorf("MapError(nil) = %+v, want zero value", got)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrImportBusy)
	want := "The system is busy with other imports (Code: SES003). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	if !IsUserFacing(ErrSessionNotFound) {
		t.Error("IsUserFacing(ErrSessionNotFound) = false, want true")
	}
	if IsUserFacing(errors.New("arbitrary breakage")) {
		t.Error("IsUserFacing(arbitrary error) = true, want false")
	}
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true, want false")
	}
}

func TestNewUserError(t *testing.T) {
	cause := fmt.Errorf("set record result: %w", ErrRecordSettled)
	ue := NewUserError(cause)
	if ue.Error() != ue.User.Message {
		t.Errorf("Error() = %q, want the user message", ue.Error())
	}
	if !errors.Is(ue, ErrRecordSettled) {
		t.Error("NewUserError hides the technical cause from errors.Is")
	}
	if NewUserError(nil) != nil {
		t.Error("NewUserError(nil) != nil")
	}
}
