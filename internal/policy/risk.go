package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RiskLevel classifies the blast radius of an action.
type RiskLevel string

const (
	// RiskLow marks routine read operations.
	RiskLow RiskLevel = "LOW"
	// RiskMedium marks ordinary modifications.
	RiskMedium RiskLevel = "MEDIUM"
	// RiskHigh marks destructive, financial, export or bulk operations.
	RiskHigh RiskLevel = "HIGH"
	// RiskCritical marks system-level operations and internal faults.
	RiskCritical RiskLevel = "CRITICAL"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// AtLeast reports whether r ranks at or above other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return riskRank[r] >= riskRank[other]
}

func maxRisk(a, b RiskLevel) RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// RiskTable maps action keywords and resource names to risk levels. It is a
// declarative lookup so the classification stays testable in isolation and
// can be replaced from configuration.
type RiskTable struct {
	Actions   map[string]RiskLevel `json:"actions"`
	Resources map[string]RiskLevel `json:"resources"`
	Default   RiskLevel            `json:"default"`
}

// DefaultRiskTable returns the built-in classification.
func DefaultRiskTable() RiskTable {
	return RiskTable{
		Actions: map[string]RiskLevel{
			"view":      RiskLow,
			"list":      RiskLow,
			"create":    RiskMedium,
			"update":    RiskMedium,
			"approve":   RiskMedium,
			"assign":    RiskMedium,
			"process":   RiskHigh,
			"transfer":  RiskHigh,
			"pay":       RiskHigh,
			"export":    RiskHigh,
			"bulk":      RiskHigh,
			"delete":    RiskHigh,
			"terminate": RiskHigh,
			"purge":     RiskCritical,
			"configure": RiskCritical,
		},
		Resources: map[string]RiskLevel{
			"payroll":  RiskHigh,
			"banking":  RiskHigh,
			"finance":  RiskMedium,
			"salary":   RiskHigh,
			"contract": RiskMedium,
			"system":   RiskCritical,
			"audit":    RiskHigh,
		},
		Default: RiskLow,
	}
}

// RiskTableFromJSON loads a table from configuration. Unknown levels are
// rejected so a typo cannot silently downgrade risk.
func RiskTableFromJSON(data []byte) (RiskTable, error) {
	var table RiskTable
	if err := json.Unmarshal(data, &table); err != nil {
		return RiskTable{}, fmt.Errorf("policy: parse risk table: %w", err)
	}
	if table.Default == "" {
		table.Default = RiskLow
	}
	for _, m := range []map[string]RiskLevel{table.Actions, table.Resources} {
		for key, level := range m {
			if _, ok := riskRank[level]; !ok {
				return RiskTable{}, fmt.Errorf("policy: risk table entry %q has unknown level %q", key, level)
			}
		}
	}
	return table, nil
}

// Classify returns the risk level for an action on a resource: the maximum of
// the matching action keyword and resource entries, or the table default.
func (t RiskTable) Classify(action, resource string) RiskLevel {
	level := t.Default
	if level == "" {
		level = RiskLow
	}
	level = maxRisk(level, lookupKeyword(t.Actions, action))
	level = maxRisk(level, lookupKeyword(t.Resources, resource))
	return level
}

// lookupKeyword tries an exact match first, then scans table keys as keywords
// inside the value so compound actions like "bulk_delete" still classify.
// Keys are scanned in sorted order to keep classification deterministic.
func lookupKeyword(table map[string]RiskLevel, value string) RiskLevel {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return RiskLow
	}
	if level, ok := table[value]; ok {
		return level
	}
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	found := RiskLow
	for _, k := range keys {
		if strings.Contains(value, k) {
			found = maxRisk(found, table[k])
		}
	}
	return found
}
