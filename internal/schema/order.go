package schema

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ImportOrder returns all registered entity types sorted so that every
// type appears after the types it depends on. Ties at the same dependency
// depth are broken by Priority, so the order is deterministic for a fixed
// catalog. Returns an error if the registered edges contain a cycle.
func ImportOrder() ([]EntityType, error) {
	defs := All()

	indegree := make(map[EntityType]int, len(defs))
	dependents := make(map[EntityType][]EntityType, len(defs))
	for _, def := range defs {
		if _, ok := indegree[def.Type]; !ok {
			indegree[def.Type] = 0
		}
		for _, dep := range def.DependsOn {
			if _, ok := Get(dep); !ok {
				return nil, fmt.Errorf("entity type %s depends on unregistered type %s", def.Type, dep)
			}
			indegree[def.Type]++
			dependents[dep] = append(dependents[dep], def.Type)
		}
	}

	// Kahn's algorithm with a priority-ordered ready list.
	var ready []EntityType
	for _, def := range defs {
		if indegree[def.Type] == 0 {
			ready = append(ready, def.Type)
		}
	}
	sortByPriority(ready)

	order := make([]EntityType, 0, len(defs))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sortByPriority(ready)
	}

	if len(order) != len(defs) {
		var stuck []string
		for t, n := range indegree {
			if n > 0 {
				stuck = append(stuck, string(t))
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle among entity types: %s", strings.Join(stuck, ", "))
	}

	return order, nil
}

func sortByPriority(types []EntityType) {
	sort.Slice(types, func(i, j int) bool {
		a, _ := Get(types[i])
		b, _ := Get(types[j])
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Type < b.Type
	})
}

// DetectEntityType identifies which entity type a file carries.
// It tries the file name against each definition's aliases first, then
// falls back to matching the header against required columns. Returns
// false when neither convention identifies the file.
func DetectEntityType(fileName string, header []string) (EntityType, bool) {
	base := normalizeFileName(fileName)

	for _, def := range All() {
		for _, alias := range def.FileAliases {
			if base == normalizeFileName(alias) {
				return def.Type, true
			}
		}
	}

	// Column-signature fallback: every required column must be present;
	// among candidates, the definition with the most columns present in
	// the header wins, so optional columns disambiguate types that share
	// a required set.
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[strings.ToLower(strings.TrimSpace(h))] = true
	}

	var best EntityDefinition
	bestScore := 0
	for _, def := range All() {
		required := def.RequiredColumns()
		if len(required) == 0 {
			continue
		}
		matched := true
		for _, col := range required {
			if !have[strings.ToLower(col)] {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		score := 0
		for _, col := range def.Columns {
			if have[strings.ToLower(col.Name)] {
				score++
			}
		}
		if score > bestScore {
			best = def
			bestScore = score
		}
	}
	if bestScore > 0 {
		return best.Type, true
	}

	return "", false
}

// normalizeFileName reduces a file name to a comparable token: base name
// without extension, lowercased, separators collapsed to underscores.
func normalizeFileName(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.':
			return '_'
		}
		return r
	}, base)
	return strings.Trim(base, "_")
}
