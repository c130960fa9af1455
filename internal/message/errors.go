package message

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedType is returned when a payload value falls outside the
	// supported value set.
	ErrUnsupportedType = errors.New("unsupported value type")
	// ErrMalformed is returned for byte streams that do not describe an envelope.
	ErrMalformed = errors.New("malformed message")
)

// CodecError reports a failure while encoding or decoding an envelope.
type CodecError struct {
	Op   string // "encode" or "decode"
	Path string // payload key path of the offending value, if known
	Err  error
}

func (e *CodecError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("message %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("message %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

func encodeErr(path string, err error) error {
	return &CodecError{Op: "encode", Path: path, Err: err}
}

func decodeErr(path string, err error) error {
	return &CodecError{Op: "decode", Path: path, Err: err}
}
