package repository

import "errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrTransactionFailed = errors.New("transaction failed")

	errVersionConflict = errors.New("session version conflict")
)
