package scp

import "fmt"

// ErrNeedMore is returned by Decoder.Next when the buffered bytes do not yet
// contain a whole PDU. Callers should Feed more data and try again.
var ErrNeedMore = fmt.Errorf("scp: need more data")

// MalformedError reports a framing or payload violation detected while
// decoding. It carries the ErrorCode that should be sent back to the peer in
// an ERROR PDU.
type MalformedError struct {
	Code ErrorCode
	Msg  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("scp: malformed message (%s): %s", errorCodeName(e.Code), e.Msg)
}

func errorCodeName(c ErrorCode) string {
	switch c {
	case ErrMalformed:
		return "MALFORMED"
	case ErrUnexpectedType:
		return "UNEXPECTED_TYPE"
	case ErrInvalidLength:
		return "INVALID_LENGTH"
	case ErrInternal:
		return "INTERNAL"
	case ErrUnsupportedVersion:
		return "UNSUPPORTED_VERSION"
	default:
		return "UNKNOWN"
	}
}

func newMalformed(code ErrorCode, format string, args ...any) *MalformedError {
	return &MalformedError{Code: code, Msg: fmt.Sprintf(format, args...)}
}
