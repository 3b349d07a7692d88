package notify

import (
	"errors"
	"testing"

	"github.com/reportcast/internal/apperrors"
	"github.com/stretchr/testify/assert"
)

func TestValidateRecipients(t *testing.T) {
	tests := []struct {
		name    string
		addrs   []string
		invalid string
		wantErr bool
	}{
		{name: "single", addrs: []string{"ops@example.com"}},
		{name: "several", addrs: []string{"ops@example.com", "first.last+reports@mail.example.co.uk"}},
		{name: "empty list", addrs: nil, wantErr: true},
		{name: "empty address", addrs: []string{""}, wantErr: true},
		{name: "missing at", addrs: []string{"ops.example.com"}, invalid: "ops.example.com", wantErr: true},
		{name: "no domain dot", addrs: []string{"ops@localhost"}, invalid: "ops@localhost", wantErr: true},
		{name: "display name", addrs: []string{"Ops <ops@example.com>"}, invalid: "Ops <ops@example.com>", wantErr: true},
		{name: "padded", addrs: []string{" ops@example.com"}, invalid: " ops@example.com", wantErr: true},
		{name: "second is bad", addrs: []string{"ops@example.com", "bad@"}, invalid: "bad@", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecipients(tt.addrs)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var rcptErr *apperrors.InvalidRecipientError
			if assert.True(t, errors.As(err, &rcptErr)) {
				assert.Equal(t, tt.invalid, rcptErr.Address)
			}
		})
	}
}
