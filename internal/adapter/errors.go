package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized transmitter errors.
var (
	ErrInvalidRange = errors.New("INVALID_RANGE")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrInternal     = errors.New("INTERNAL")
)

// Tuning limits accepted by every transmitter.
const (
	MinFrequencyHz  uint64 = 1_000_000
	MaxFrequencyHz  uint64 = 7_250_000_000
	MaxSampleRateHz uint32 = 20_000_000
)

// ErrorMap lists the message tokens that map to each normalized code.
type ErrorMap struct {
	Range       []string
	Busy        []string
	Unavailable []string
}

// ErrorMappings holds the token tables per transmitter kind. Unknown kinds
// use "generic"; unknown tokens map to INTERNAL.
var ErrorMappings = map[string]ErrorMap{
	"fifo": {
		Range:       []string{"EINVAL", "INVALID ARGUMENT"},
		Busy:        []string{"EAGAIN", "RESOURCE TEMPORARILY UNAVAILABLE", "EBUSY"},
		Unavailable: []string{"ENXIO", "EPIPE", "BROKEN PIPE", "NO SUCH DEVICE", "NO SUCH FILE"},
	},
	"generic": {
		Range:       []string{"OUT_OF_RANGE", "INVALID_RANGE", "BAD_VALUE"},
		Busy:        []string{"BUSY", "RETRY"},
		Unavailable: []string{"UNAVAILABLE", "OFFLINE", "NOT_READY"},
	},
}

// TransmitterError keeps the underlying error alongside its normalized code.
type TransmitterError struct {
	Code     error
	Op       string
	Original error
}

func (e *TransmitterError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v (transmitter: %v)", e.Code, e.Original)
	}
	return fmt.Sprintf("%v: %s (transmitter: %v)", e.Code, e.Op, e.Original)
}

func (e *TransmitterError) Unwrap() error {
	return e.Code
}

// NormalizeError maps err to a normalized code using the generic table.
func NormalizeError(op string, err error) error {
	return NormalizeErrorFor("generic", op, err)
}

// NormalizeErrorFor maps err using the table for kind. Errors that already
// carry a normalized code are returned unchanged.
func NormalizeErrorFor(kind, op string, err error) error {
	if err == nil {
		return nil
	}

	var te *TransmitterError
	if errors.As(err, &te) {
		return err
	}
	for _, code := range []error{ErrInvalidRange, ErrBusy, ErrUnavailable, ErrInternal} {
		if errors.Is(err, code) {
			return &TransmitterError{Code: code, Op: op, Original: err}
		}
	}

	return &TransmitterError{
		Code:     mapErrorToCode(err.Error(), kind),
		Op:       op,
		Original: err,
	}
}

func mapErrorToCode(msg, kind string) error {
	table, exists := ErrorMappings[kind]
	if !exists {
		table = ErrorMappings["generic"]
	}

	upper := strings.ToUpper(msg)

	for _, token := range table.Range {
		if strings.Contains(upper, token) {
			return ErrInvalidRange
		}
	}
	for _, token := range table.Busy {
		if strings.Contains(upper, token) {
			return ErrBusy
		}
	}
	for _, token := range table.Unavailable {
		if strings.Contains(upper, token) {
			return ErrUnavailable
		}
	}

	return ErrInternal
}

// ValidateTuning checks values against the shared limits.
func ValidateTuning(t Tuning) error {
	if t.FrequencyHz != 0 && (t.FrequencyHz < MinFrequencyHz || t.FrequencyHz > MaxFrequencyHz) {
		return fmt.Errorf("%w: frequency %d Hz", ErrInvalidRange, t.FrequencyHz)
	}
	if t.SampleRateHz > MaxSampleRateHz {
		return fmt.Errorf("%w: sample rate %d S/s", ErrInvalidRange, t.SampleRateHz)
	}
	return nil
}
