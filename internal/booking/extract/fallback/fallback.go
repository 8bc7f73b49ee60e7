// Package fallback holds the deterministic tier of the extraction
// pipeline: pure pattern and keyword-table resolvers, one per field
// family, with no I/O.
package fallback

import "github.com/garagebot-core/server/internal/booking/extract"

// Defaults returns the registry of built-in fallback resolvers keyed by
// field family.
func Defaults() map[string]extract.FallbackFunc {
	return map[string]extract.FallbackFunc{
		"phone":        Phone,
		"email":        Email,
		"name":         Name,
		"confirmation": Confirmation,
		"date":         Date,
		"vehicle":      Vehicle,
	}
}
