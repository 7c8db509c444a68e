package models

import (
	"errors"
	"strings"
)

// ErrorKind classifies failures surfaced by the engine.
type ErrorKind string

const (
	KindInstall             ErrorKind = "install"
	KindVerify              ErrorKind = "verify"
	KindMissingFile         ErrorKind = "missing-file"
	KindHash                ErrorKind = "hash"
	KindFetch               ErrorKind = "fetch"
	KindUnsupportedPlatform ErrorKind = "unsupported-platform"
)

// Sentinels matching any *Error of the corresponding kind via errors.Is.
var (
	ErrInstall             = &Error{Kind: KindInstall}
	ErrVerify              = &Error{Kind: KindVerify}
	ErrMissingFile         = &Error{Kind: KindMissingFile}
	ErrHash                = &Error{Kind: KindHash}
	ErrFetch               = &Error{Kind: KindFetch}
	ErrUnsupportedPlatform = &Error{Kind: KindUnsupportedPlatform}
)

// Error is the typed failure returned across component boundaries.
// Detail keeps diagnostic text such as the patch tool's stderr verbatim.
type Error struct {
	Kind   ErrorKind
	Op     string
	Path   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if d := strings.TrimSpace(e.Detail); d != "" {
		b.WriteString(": ")
		b.WriteString(d)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can test against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NewHashError reports a digest mismatch for a downloaded or on-disk file.
func NewHashError(op, path, expected, actual string) *Error {
	return &Error{
		Kind:   KindHash,
		Op:     op,
		Path:   path,
		Detail: "expected " + expected + ", got " + actual,
	}
}
