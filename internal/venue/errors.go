package venue

import (
	"errors"

	"github.com/adshao/go-binance/v2/futures"
)

// Classification is the error-kind taxonomy of spec §7, used once per call
// site instead of the teacher's strings.Contains(errMsg, "-1021") style
// substring matching in checkCriticalError.
type Classification int

const (
	Transient Classification = iota
	ClockSkew
	BadRequest
	FatalMargin
	InsufficientNotional
	Unknown
)

// Grounded on original_source/order_management.py's handle_binance_error,
// the authoritative source for this exact code→action mapping.
const (
	codeClockSkew         = -1021
	codeInvalidAPIKey     = -2014
	codeBadRequest        = -1102
	codeInsufficientMargin = -2019
	codeInsufficientNotional = -4164
	codeServerOverloaded  = -1008
)

// Classify inspects a venue error and returns its Classification. The bool
// is false when err is nil.
func Classify(err error) (Classification, bool) {
	if err == nil {
		return Unknown, false
	}
	var apiErr *futures.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeClockSkew:
			return ClockSkew, true
		case codeInvalidAPIKey, codeBadRequest:
			return BadRequest, true
		case codeInsufficientMargin:
			return FatalMargin, true
		case codeInsufficientNotional:
			return InsufficientNotional, true
		case codeServerOverloaded:
			return Transient, true
		default:
			return Unknown, true
		}
	}
	return Transient, true
}
