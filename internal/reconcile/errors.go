package reconcile

import "errors"

var (
	// ErrDuplicateDefinition is returned when the desired set contains
	// two definitions with the same name
	ErrDuplicateDefinition = errors.New("duplicate schedule definition")

	// ErrDuplicateRecord is returned when the stored records contain
	// two entries with the same name
	ErrDuplicateRecord = errors.New("duplicate schedule record")
)
