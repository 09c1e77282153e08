package store

import "errors"

// Sentinel errors — the domain-specific error enum subsystem boundaries
// convert low-level store errors to, per the error handling conventions.
var (
	ErrTradeGroupNotFound = errors.New("store: trade group not found")
	ErrMemberNotFound     = errors.New("store: trade group member not found")
	ErrMemberConflict     = errors.New("store: member already exists for this master/slave pair")
)
