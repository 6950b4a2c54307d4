package core

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/schema"
)

// ----------------------------------------------------------------------------
// Reference Resolution Tests
// ----------------------------------------------------------------------------

// fakeRecordStore is a canned RecordStore for exercising reference
// resolution and mapping suggestions without a real backend.
type fakeRecordStore struct {
	entities map[string]uuid.UUID
	vocab    map[string][]CanonicalValue

	resolveRequests map[schema.EntityType][]string
	vocabCalls      map[string]int
	err             error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		entities:        make(map[string]uuid.UUID),
		vocab:           make(map[string][]CanonicalValue),
		resolveRequests: make(map[schema.EntityType][]string),
		vocabCalls:      make(map[string]int),
	}
}

func fakeKey(typ schema.EntityType, externalID string) string {
	return string(typ) + "\x00" + strings.ToLower(strings.TrimSpace(externalID))
}

func (f *fakeRecordStore) add(typ schema.EntityType, externalID string) uuid.UUID {
	id := uuid.New()
	f.entities[fakeKey(typ, externalID)] = id
	return id
}

func (f *fakeRecordStore) addCanonical(category string, values ...string) {
	for _, v := range values {
		f.vocab[category] = append(f.vocab[category], CanonicalValue{
			ID: uuid.New(), Category: category, Value: v,
		})
	}
}

func (f *fakeRecordStore) CreateEntity(_ context.Context, e NewEntity) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	key := fakeKey(e.Type, e.ExternalID)
	if _, dup := f.entities[key]; dup {
		return uuid.Nil, ErrDuplicateEntity
	}
	id := uuid.New()
	f.entities[key] = id
	return id, nil
}

func (f *fakeRecordStore) LookupByExternalID(_ context.Context, _ uuid.UUID, typ schema.EntityType, externalID string) (uuid.UUID, bool, error) {
	if f.err != nil {
		return uuid.Nil, false, f.err
	}
	id, ok := f.entities[fakeKey(typ, externalID)]
	return id, ok, nil
}

func (f *fakeRecordStore) ResolveExternalIDs(_ context.Context, _ uuid.UUID, typ schema.EntityType, externalIDs []string) (map[string]uuid.UUID, error) {
	if f.err != nil {
		return nil, f.err
	}
	requested := append([]string(nil), externalIDs...)
	sort.Strings(requested)
	f.resolveRequests[typ] = append(f.resolveRequests[typ], requested...)

	out := make(map[string]uuid.UUID)
	for _, extID := range externalIDs {
		if id, ok := f.entities[fakeKey(typ, extID)]; ok {
			out[extID] = id
		}
	}
	return out, nil
}

func (f *fakeRecordStore) ListCanonicalValues(_ context.Context, _ uuid.UUID, category string) ([]CanonicalValue, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.vocabCalls[category]++
	return append([]CanonicalValue(nil), f.vocab[category]...), nil
}

func (f *fakeRecordStore) CreateCanonicalValue(_ context.Context, org uuid.UUID, category, value string) (CanonicalValue, error) {
	if f.err != nil {
		return CanonicalValue{}, f.err
	}
	for _, cv := range f.vocab[category] {
		if strings.EqualFold(cv.Value, value) {
			return cv, nil
		}
	}
	cv := CanonicalValue{ID: uuid.New(), Org: org, Category: category, Value: value}
	f.vocab[category] = append(f.vocab[category], cv)
	return cv, nil
}

func (f *fakeRecordStore) VoidBatchEntities(_ context.Context, _, _ uuid.UUID) (int64, error) {
	return 0, f.err
}

func TestValidateReferences_SessionThenStorage(t *testing.T) {
	records := newFakeRecordStore()
	records.add(schema.TypeOrganizations, "Org-2") // stored under a different spelling

	files := []*ParsedFile{
		mustParse(t, "organizations.csv", "legacy_id,name\nORG-1,Acme\n"),
		mustParse(t, "contacts.csv",
			"legacy_id,organization_id,first_name,last_name\n"+
				"C-1,org-1,Ada,Smith\n"+
				"C-2,ORG-2,Bob,Jones\n"+
				"C-3,,Carol,King\n"+
				"C-4,ORG-9,Dan,Lee\n"),
	}

	issues, err := ValidateReferences(context.Background(), records, uuid.New(), files)
	if err != nil {
		t.Fatalf("ValidateReferences: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %v, want exactly one", issues)
	}

	got := issues[0]
	if got.Kind != IssueReference || got.Severity != SeverityError {
		t.Errorf("issue = %s/%s, want reference/error", got.Kind, got.Severity)
	}
	if got.File != "contacts.csv" || got.Row != 4 || got.Column != "organization_id" || got.Value != "ORG-9" {
		t.Errorf("issue at %s row %d %s %q, want contacts.csv row 4 organization_id ORG-9",
			got.File, got.Row, got.Column, got.Value)
	}
	if !strings.Contains(got.Message, `organizations "ORG-9"`) {
		t.Errorf("message = %q, want it to name the missing organization", got.Message)
	}

	// Only the IDs the session files do not supply reach storage, folded.
	want := []string{"org-2", "org-9"}
	if got := records.resolveRequests[schema.TypeOrganizations]; !reflect.DeepEqual(got, want) {
		t.Errorf("storage lookups = %v, want %v", got, want)
	}
}

func TestValidateReferences_AllInSession(t *testing.T) {
	records := newFakeRecordStore()
	files := []*ParsedFile{
		mustParse(t, "organizations.csv", "legacy_id,name\nORG-1,Acme\n"),
		mustParse(t, "contacts.csv",
			"legacy_id,organization_id,first_name,last_name\nC-1,ORG-1,Ada,Smith\n"),
	}

	issues, err := ValidateReferences(context.Background(), records, uuid.New(), files)
	if err != nil {
		t.Fatalf("ValidateReferences: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("unexpected issues: %v", issues)
	}
	if len(records.resolveRequests) != 0 {
		t.Errorf("storage lookups = %v, want none when the session supplies every target", records.resolveRequests)
	}
}

func TestValidateReferences_MultipleTargetTypes(t *testing.T) {
	records := newFakeRecordStore()
	records.add(schema.TypeCases, "CASE-1")
	records.add(schema.TypeContacts, "C-1")

	files := []*ParsedFile{
		mustParse(t, "case_contacts.csv",
			"legacy_id,case_id,contact_id\nCC-1,CASE-1,C-1\nCC-2,CASE-2,C-1\n"),
	}

	issues, err := ValidateReferences(context.Background(), records, uuid.New(), files)
	if err != nil {
		t.Fatalf("ValidateReferences: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %v, want only the missing case", issues)
	}
	if issues[0].Row != 2 || issues[0].Column != "case_id" || issues[0].Value != "CASE-2" {
		t.Errorf("issue = row %d %s %q, want row 2 case_id CASE-2",
			issues[0].Row, issues[0].Column, issues[0].Value)
	}

	// One storage round trip per referenced type.
	if len(records.resolveRequests[schema.TypeCases]) == 0 || len(records.resolveRequests[schema.TypeContacts]) == 0 {
		t.Errorf("storage lookups = %v, want both cases and contacts resolved", records.resolveRequests)
	}
}

func TestValidateReferences_StoreError(t *testing.T) {
	records := newFakeRecordStore()
	records.err = errors.New("dial tcp 127.0.0.1:5432: connection refused")

	files := []*ParsedFile{
		mustParse(t, "contacts.csv",
			"legacy_id,organization_id,first_name,last_name\nC-1,ORG-1,Ada,Smith\n"),
	}

	_, err := ValidateReferences(context.Background(), records, uuid.New(), files)
	if err == nil || !strings.Contains(err.Error(), "resolve organizations references") {
		t.Fatalf("err = %v, want a wrapped resolve error", err)
	}
}
