package model

import "errors"

// ErrNotFound is returned by lookups of rows that do not exist or are
// soft-deleted and were not asked for.
var ErrNotFound = errors.New("record not found")
