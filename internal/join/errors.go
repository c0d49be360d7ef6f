package join

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMessage is returned for frames that cannot be parsed or are
	// not a join or rejoin request this server can answer.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrDeviceNotExist is returned when the device is unknown or has no
	// root keys.
	ErrDeviceNotExist = errors.New("device does not exist")

	// ErrMICMismatch is returned when the request MIC does not verify.
	ErrMICMismatch = errors.New("mic mismatch")

	// ErrNonceReplay is returned when DevNonce or RJcount was already used.
	ErrNonceReplay = errors.New("nonce replay")

	// ErrAbort stops the flow without error.
	ErrAbort = errors.New("nothing to do")
)

// StoreError wraps an I/O failure of the device store or the device lock.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Result labels used for metrics and logging.
const (
	ResultOK             = "ok"
	ResultIgnored        = "ignored"
	ResultInvalidMessage = "invalid_message"
	ResultDeviceNotExist = "device_not_exist"
	ResultMICMismatch    = "mic_mismatch"
	ResultNonceReplay    = "nonce_replay"
	ResultStoreError     = "store_error"
	ResultError          = "error"
)

// ResultLabel maps the outcome of Handle onto a result label.
func ResultLabel(err error) string {
	var storeErr *StoreError

	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrAbort):
		return ResultIgnored
	case errors.Is(err, ErrInvalidMessage):
		return ResultInvalidMessage
	case errors.Is(err, ErrDeviceNotExist):
		return ResultDeviceNotExist
	case errors.Is(err, ErrMICMismatch):
		return ResultMICMismatch
	case errors.Is(err, ErrNonceReplay):
		return ResultNonceReplay
	case errors.As(err, &storeErr):
		return ResultStoreError
	default:
		return ResultError
	}
}
