package library

import "errors"

var (
	ErrValidation   = errors.New("library: missing required field")
	ErrDuplicate    = errors.New("library: song already exists")
	ErrNotFound     = errors.New("library: not found")
	ErrUnauthorized = errors.New("library: unauthorized")
	ErrRemote       = errors.New("library: backend request failed")
)

func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
func IsDuplicate(err error) bool    { return errors.Is(err, ErrDuplicate) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }
func IsRemote(err error) bool       { return errors.Is(err, ErrRemote) }
