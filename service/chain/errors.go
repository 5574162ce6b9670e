package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportExhausted means every configured node failed or timed out
	// for a single call.
	ErrTransportExhausted = errors.New("all ledger nodes failed")

	// ErrInvalidEnvelope means a node answered, but not with an object
	// carrying an object-valued "result".
	ErrInvalidEnvelope = errors.New("invalid response envelope")

	// ErrUnparseablePayload means the envelope was valid but a field that the
	// operation requires was missing or malformed.
	ErrUnparseablePayload = errors.New("unparseable payload")

	// ErrUnknownNetwork is returned by the registry for an unregistered id.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrInvalidAddress is returned when an address fails the network's
	// format check before any request is made.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidHash is returned for a malformed transaction hash.
	ErrInvalidHash = errors.New("invalid transaction hash")
)

// ParseError describes a payload that could not be converted. It matches
// ErrUnparseablePayload with errors.Is.
type ParseError struct {
	// Field is the dotted path of the offending field.
	Field string
	// Code is the node's own error token when the node reported an error
	// inside an otherwise valid envelope.
	Code string
	// NotFound is set when Code means the requested object does not exist.
	NotFound bool
	Err      error
}

// NewParseError returns a ParseError for a missing or malformed field.
func NewParseError(field string, err error) *ParseError {
	return &ParseError{Field: field, Err: err}
}

func (e *ParseError) Error() string {
	if e.Code != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: node error %s: %v", ErrUnparseablePayload, e.Code, e.Err)
		}
		return fmt.Sprintf("%s: node error %s", ErrUnparseablePayload, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrUnparseablePayload, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrUnparseablePayload, e.Field)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrUnparseablePayload }

// IsNotFound reports whether err is a ParseError for a missing object.
func IsNotFound(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.NotFound
}
