package schema

import "errors"

// Sentinel errors wrapped by apperrors.AppError in Build/GetTable.
var (
	ErrDuplicateID      = errors.New("duplicate id")
	ErrDanglingReference = errors.New("dangling reference")
	ErrUnknownTable     = errors.New("unknown table")
)
