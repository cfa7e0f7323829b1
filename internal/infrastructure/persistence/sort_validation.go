package persistence

import (
	"strings"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns def if the input is invalid or empty.
func ValidateSortOrder(orderDir, def string) string {
	switch strings.ToUpper(strings.TrimSpace(orderDir)) {
	case "ASC":
		return "ASC"
	case "DESC":
		return "DESC"
	default:
		return def
	}
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// orderClause renders a validated ORDER BY; tiebreak keeps offset paging stable
func orderClause(field, dir, tiebreak string) string {
	if field == tiebreak {
		return field + " " + dir
	}
	return field + " " + dir + ", " + tiebreak + " ASC"
}

// CanonicalSortFields contains allowed sort columns for canonical entities
var CanonicalSortFields = map[string]bool{
	"canonical_id":    true,
	"entity_type":     true,
	"quality_score":   true,
	"first_seen_at":   true,
	"last_updated_at": true,
}
