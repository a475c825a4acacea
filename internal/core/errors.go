package core

import (
	"errors"
	"fmt"

	"github.com/jdholdren/srwatch/internal/core/db"
)

// A ValidationError means the request itself was bad. Nothing was changed.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// A ConflictError means the request clashed with something already done,
// like voting twice. Nothing was changed.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return e.Msg
}

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ErrNoGuild is returned for anything invoked outside of a guild
var ErrNoGuild = &ValidationError{Msg: "this bot does not support DMs"}

// translates store errors that are really the caller's fault
func storeErr(err error) error {
	if errors.Is(err, db.ErrInvalidGuild) {
		return ErrNoGuild
	}
	return err
}
