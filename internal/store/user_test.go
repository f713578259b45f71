package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMapPQError(t *testing.T) {
	other := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "not a pq error", err: other, want: other},
		{
			name: "duplicate email",
			err:  &pq.Error{Code: pqUniqueViolation, Constraint: constraintEmailUnique},
			want: ErrDuplicateEmail,
		},
		{
			name: "duplicate username",
			err:  fmt.Errorf("insert: %w", &pq.Error{Code: pqUniqueViolation, Constraint: constraintUsernameUnique}),
			want: ErrDuplicateUsername,
		},
		{
			name: "missing user on refresh token insert",
			err:  &pq.Error{Code: pqForeignKeyViolation},
			want: ErrNotFound,
		},
		{
			name: "malformed uuid",
			err:  &pq.Error{Code: pqInvalidTextRepresentation, Message: `invalid input syntax for type uuid: "not-a-uuid"`},
			want: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPQError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	unknown := &pq.Error{Code: "40001"}
	assert.Same(t, unknown, mapPQError(unknown))
}
