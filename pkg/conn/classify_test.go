package conn

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"rtlink/pkg/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.ErrorType
	}{
		{"nil", nil, core.ErrorTypeTransport},
		{"jwt_expired", errors.New("jwt expired"), core.ErrorTypeAuthRejected},
		{"mixed_case", errors.New("Authentication Error: Invalid Token"), core.ErrorTypeAuthRejected},
		{"unauthorized", errors.New("401 Unauthorized"), core.ErrorTypeAuthRejected},
		{"wrapped_text", fmt.Errorf("handshake: %w", errors.New("token expired")), core.ErrorTypeAuthRejected},
		{"econnrefused", errors.New("dial tcp 127.0.0.1:80: connect: ECONNREFUSED"), core.ErrorTypeTransport},
		{"timeout", errors.New("i/o timeout"), core.ErrorTypeTransport},
		{
			name: "structured_auth_code",
			err:  core.NewConnErrorWithCode(core.ErrorTypeUnknown, core.ErrCodeAuthRejected, "handshake refused", nil),
			want: core.ErrorTypeAuthRejected,
		},
		{
			name: "structured_expired_code",
			err:  core.NewConnErrorWithCode(core.ErrorTypeUnknown, core.ErrCodeTokenExpired, "refused", nil),
			want: core.ErrorTypeAuthRejected,
		},
		{
			name: "structured_type_wins_over_text",
			err:  core.NewConnErrorWithCode(core.ErrorTypeTransport, core.ErrCodeHandshake, "unauthorized proxy page", nil),
			want: core.ErrorTypeTransport,
		},
		{
			name: "untyped_conn_error_falls_back_to_text",
			err:  &core.ConnError{Message: "jwt malformed"},
			want: core.ErrorTypeAuthRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
