package storage

import "errors"

var (
	// ErrReadOnly is returned when a mutating operation is attempted on a
	// volume opened read-only.
	ErrReadOnly = errors.New("storage: volume is read-only")
	// ErrBadSignature is returned when the master page signature does not
	// match, indicating the file is not a volume of this format.
	ErrBadSignature = errors.New("storage: bad master page signature")
	// ErrBadMasterPage is returned when the master page fields fail their
	// sanity bounds (page count, root address).
	ErrBadMasterPage = errors.New("storage: bad master page")
	// ErrPageOutOfRange is returned when a page address exceeds the
	// volume's page count.
	ErrPageOutOfRange = errors.New("storage: page address out of range")
)
