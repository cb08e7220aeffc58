package models

import "errors"

// Sentinel errors form the taxonomy every collaborator in this module
// returns through. Call sites branch on errors.Is rather than on
// exceptions or magic strings, per the store's conditional-write contract.
var (
	ErrBadInput       = errors.New("bad input")
	ErrNotFound       = errors.New("not found")
	ErrGone           = errors.New("gone")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyTerminal = errors.New("already terminal")
	ErrUnavailable    = errors.New("unavailable")
	ErrInternal       = errors.New("internal")
)
