package serial

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyListening is returned by StartListening when the listener
	// has not been stopped since the previous start.
	ErrAlreadyListening = errors.New("serial: already listening")
	// ErrPortNotOpen is returned by StartListening when the transport is not
	// open, and reported to the exception handler when the transport closes
	// underneath a running listener.
	ErrPortNotOpen = errors.New("serial: port not open")
	// ErrPortClosed is returned by Port.Read after Close.
	ErrPortClosed = errors.New("serial: port closed")
)

// TransportError wraps a failure returned by Transport.Read.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("serial: transport read: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TokenizeError reports a tokenizer failure. Discarded holds the bytes that
// were dropped to get past the bad input, if any.
type TokenizeError struct {
	Err       error
	Discarded string
}

func (e *TokenizeError) Error() string {
	if e.Discarded == "" {
		return fmt.Sprintf("serial: tokenize: %v", e.Err)
	}
	return fmt.Sprintf("serial: tokenize: %v (discarded %q)", e.Err, e.Discarded)
}

func (e *TokenizeError) Unwrap() error { return e.Err }

// CallbackError reports a panic that escaped a filter callback or the
// default handler. Token is the text that was being delivered.
type CallbackError struct {
	Filter FilterID
	Token  string
	Value  any
}

func (e *CallbackError) Error() string {
	if e.Filter == defaultFilterID {
		return fmt.Sprintf("serial: default handler panicked on %q: %v", e.Token, e.Value)
	}
	return fmt.Sprintf("serial: filter %d callback panicked on %q: %v", e.Filter, e.Token, e.Value)
}

// Unwrap returns the panic value when it was itself an error.
func (e *CallbackError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
