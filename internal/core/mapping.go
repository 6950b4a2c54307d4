package core

// mapping.go reconciles free-form category values from legacy exports with
// an organization's controlled vocabulary. Legacy systems let users type
// "Lit", "litigation", "Litigation " into the same field; the vocabulary
// has exactly one "Litigation". Each distinct external value gets a
// decision: map to an existing canonical value, create a new one, or fall
// through to the session's unmapped policy at execution time.

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/casevault/importer/internal/schema"
)

// SimilarityThreshold is the minimum similarity for a fuzzy suggestion.
// Similarity is 1 - distance/len, so 0.72 tolerates roughly one edit in a
// four-character value.
var SimilarityThreshold = 0.72

// CategoryValue is one distinct external value found in a category column,
// with where it came from.
type CategoryValue struct {
	Category string   `json:"category"`
	Value    string   `json:"value"`
	Count    int      `json:"count"`
	Files    []string `json:"files,omitempty"`
}

// MappingSuggestion pairs an external value with its best canonical match.
// Confidence is 1 for an exact case-insensitive match, the similarity score
// for a fuzzy match, and 0 when nothing matched.
type MappingSuggestion struct {
	Category   string  `json:"category"`
	Value      string  `json:"value"`
	Canonical  string  `json:"canonical,omitempty"`
	Confidence float64 `json:"confidence"`
}

// TypeMapping is one confirmed decision: the external value either maps to
// an existing canonical value or, with CreateNew, becomes a new vocabulary
// entry (named Canonical when set, otherwise named after the external
// value).
type TypeMapping struct {
	Category  string `json:"category"`
	External  string `json:"external"`
	Canonical string `json:"canonical,omitempty"`
	CreateNew bool   `json:"createNew,omitempty"`
}

// UnmappedPolicy decides what execution does with a category value no
// decision covers.
type UnmappedPolicy string

const (
	// PolicySkip fails the record with an explanatory message.
	PolicySkip UnmappedPolicy = "skip"
	// PolicyUseOriginal imports the external value as-is.
	PolicyUseOriginal UnmappedPolicy = "use-original"
	// PolicyUseDefault substitutes the plan's default value.
	PolicyUseDefault UnmappedPolicy = "use-default"
)

// Valid reports whether p is one of the three policies.
func (p UnmappedPolicy) Valid() bool {
	switch p {
	case PolicySkip, PolicyUseOriginal, PolicyUseDefault:
		return true
	}
	return false
}

// MappingPlan is the confirmed set of decisions for one session, plus the
// policy for values left undecided.
type MappingPlan struct {
	Policy       UnmappedPolicy         `json:"policy"`
	DefaultValue string                 `json:"defaultValue,omitempty"`
	decisions    map[string]TypeMapping // keyed by category + "\x00" + folded external
}

// NewMappingPlan returns an empty plan with the given policy.
func NewMappingPlan(policy UnmappedPolicy, defaultValue string) *MappingPlan {
	return &MappingPlan{
		Policy:       policy,
		DefaultValue: defaultValue,
		decisions:    make(map[string]TypeMapping),
	}
}

func decisionKey(category, external string) string {
	return category + "\x00" + strings.ToLower(strings.TrimSpace(external))
}

// Set records one decision, replacing any earlier decision for the same
// external value.
func (p *MappingPlan) Set(m TypeMapping) {
	p.decisions[decisionKey(m.Category, m.External)] = m
}

// Decisions returns the recorded decisions sorted by category then external
// value.
func (p *MappingPlan) Decisions() []TypeMapping {
	out := make([]TypeMapping, 0, len(p.decisions))
	for _, m := range p.decisions {
		out = append(out, m)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Category != out[b].Category {
			return out[a].Category < out[b].Category
		}
		return out[a].External < out[b].External
	})
	return out
}

// Resolve maps an external value to the value to import. The second result
// reports whether a new canonical value must be created first; ok is false
// when the policy says the record should fail instead.
func (p *MappingPlan) Resolve(category, external string) (value string, createNew bool, ok bool) {
	if m, found := p.decisions[decisionKey(category, external)]; found {
		if m.CreateNew {
			if m.Canonical != "" {
				return m.Canonical, true, true
			}
			return m.External, true, true
		}
		return m.Canonical, false, true
	}

	switch p.Policy {
	case PolicyUseOriginal:
		return external, false, true
	case PolicyUseDefault:
		return p.DefaultValue, false, true
	default:
		return "", false, false
	}
}

// CollectCategoryValues scans category columns across the files and returns
// each distinct non-empty value with its occurrence count, sorted by
// category then value. Values differing only in case or surrounding space
// are the same value; the first spelling seen wins.
func CollectCategoryValues(files []*ParsedFile) []CategoryValue {
	type key struct{ category, folded string }
	seen := make(map[key]*CategoryValue)

	for _, f := range files {
		def, ok := schema.Get(f.Type)
		if !ok {
			continue
		}
		for _, col := range def.CategoryColumns() {
			if !f.HasColumn(col.Name) {
				continue
			}
			for i := range f.Rows {
				raw := strings.TrimSpace(f.CellAt(i, col.Name))
				if raw == "" {
					continue
				}
				k := key{col.Category, strings.ToLower(raw)}
				cv, exists := seen[k]
				if !exists {
					cv = &CategoryValue{Category: col.Category, Value: raw}
					seen[k] = cv
				}
				cv.Count++
				if len(cv.Files) == 0 || cv.Files[len(cv.Files)-1] != f.Name {
					cv.Files = append(cv.Files, f.Name)
				}
			}
		}
	}

	out := make([]CategoryValue, 0, len(seen))
	for _, cv := range seen {
		out = append(out, *cv)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Category != out[b].Category {
			return out[a].Category < out[b].Category
		}
		return strings.ToLower(out[a].Value) < strings.ToLower(out[b].Value)
	})
	return out
}

// SuggestMappings matches each distinct value against the organization's
// vocabulary: exact case-insensitive match first, fuzzy match above
// SimilarityThreshold second, no suggestion otherwise.
func SuggestMappings(ctx context.Context, records RecordStore, org uuid.UUID, values []CategoryValue) ([]MappingSuggestion, error) {
	vocab := make(map[string][]CanonicalValue)

	out := make([]MappingSuggestion, 0, len(values))
	for _, cv := range values {
		canon, ok := vocab[cv.Category]
		if !ok {
			var err error
			canon, err = records.ListCanonicalValues(ctx, org, cv.Category)
			if err != nil {
				return nil, err
			}
			vocab[cv.Category] = canon
		}

		s := MappingSuggestion{Category: cv.Category, Value: cv.Value}
		if match, conf, ok := bestCanonicalMatch(cv.Value, canon); ok {
			s.Canonical = match
			s.Confidence = conf
		}
		out = append(out, s)
	}
	return out, nil
}

// bestCanonicalMatch picks the closest canonical value for an external one.
func bestCanonicalMatch(value string, canon []CanonicalValue) (string, float64, bool) {
	for _, c := range canon {
		if strings.EqualFold(strings.TrimSpace(value), c.Value) {
			return c.Value, 1, true
		}
	}

	targets := make([]string, len(canon))
	for i, c := range canon {
		targets[i] = c.Value
	}

	ranks := fuzzy.RankFindNormalizedFold(value, targets)
	if len(ranks) == 0 {
		return "", 0, false
	}
	sort.Sort(ranks)

	best := ranks[0]
	conf := similarity(best.Distance, value, best.Target)
	if conf < SimilarityThreshold {
		return "", 0, false
	}
	return canon[best.OriginalIndex].Value, conf, true
}

// similarity converts a Levenshtein distance to a 0-1 score against the
// longer of the two strings.
func similarity(distance int, a, b string) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	s := 1 - float64(distance)/float64(n)
	if s < 0 {
		return 0
	}
	return s
}
