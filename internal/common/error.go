package common

import "fmt"

var (
	ErrInvalidDescriptor   = fmt.Errorf("invalid descriptor")
	ErrInvalidEntry        = fmt.Errorf("invalid catalog entry")
	ErrBadStatus           = fmt.Errorf("unexpected response status")
	ErrEntryNotFound       = fmt.Errorf("catalog entry not found")
	ErrUnknownContentType  = fmt.Errorf("unknown content type")
	ErrValueTooLarge       = fmt.Errorf("value exceeds size limit")
	ErrEmptyManifest       = fmt.Errorf("manifest has no items")
	ErrUnknownStoreBackend = fmt.Errorf("unknown key/value backend")
)
