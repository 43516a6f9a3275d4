package conn

import (
	"errors"
	"strings"

	"rtlink/pkg/core"
)

// authPhrases are matched case-insensitively against failure text when the transport
// did not attach a structured code.
var authPhrases = []string{
	"jwt expired",
	"jwt malformed",
	"invalid token",
	"token expired",
	"invalid signature",
	"no token provided",
	"authentication error",
	"unauthorized",
}

// Classify sorts a connect failure into ErrorTypeAuthRejected or ErrorTypeTransport.
// A ConnError with an auth type or code wins; any other structured error is a transport
// failure. Plain errors fall back to phrase matching on their text.
func Classify(err error) core.ErrorType {
	if err == nil {
		return core.ErrorTypeTransport
	}

	var ce *core.ConnError
	if errors.As(err, &ce) {
		switch {
		case ce.Type == core.ErrorTypeAuthRejected,
			ce.Code == string(core.ErrCodeAuthRejected),
			ce.Code == string(core.ErrCodeTokenExpired):
			return core.ErrorTypeAuthRejected
		case ce.Code != "" || ce.Type != core.ErrorTypeUnknown:
			return core.ErrorTypeTransport
		}
	}

	if IsAuthText(err.Error()) {
		return core.ErrorTypeAuthRejected
	}
	return core.ErrorTypeTransport
}

// IsAuthText reports whether msg contains one of the known credential rejection phrases.
func IsAuthText(msg string) bool {
	msg = strings.ToLower(msg)
	for _, phrase := range authPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
