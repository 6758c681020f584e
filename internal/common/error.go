package common

import "fmt"

var (
	ErrStoreUnavailable   = fmt.Errorf("record store unavailable")
	ErrUnknownCategory    = fmt.Errorf("unknown category")
	ErrArchiveWrite       = fmt.Errorf("cannot write archive")
	ErrInvalidRecord      = fmt.Errorf("invalid record")
	ErrNoRecords          = fmt.Errorf("no records found")
	ErrBundleNotSupported = fmt.Errorf("bundle export is not supported for category")
)
