package store

import (
	"github.com/ralphmem/ralphmem/internal/rerr"
)

// validateAcronymFormat enforces spec §3.1's "3-5 uppercase alphanumerics".
func validateAcronymFormat(acronym string) error {
	if len(acronym) < 3 || len(acronym) > 5 {
		return rerr.New(rerr.DisciplineOps, "Acronym must be 3-5 characters, got %d", len(acronym))
	}
	for _, r := range acronym {
		isUpper := r >= 'A' && r <= 'Z'
		isDigit := r >= '0' && r <= '9'
		if !isUpper && !isDigit {
			return rerr.New(rerr.DisciplineOps, "Acronym must be uppercase alphanumerics, got %q", acronym)
		}
	}
	return nil
}
