package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&ConfigurationError{Field: "frequency", Reason: "unsupported"}, KindConfiguration},
		{&DataFetchError{Err: errors.New("offline")}, KindDataFetch},
		{&InvalidRecipientError{Address: "x"}, KindInvalidRecipient},
		{&DeliveryError{Primary: errors.New("refused")}, KindDelivery},
		{&PersistenceError{Op: "advance schedule 1", Err: errors.New("locked")}, KindPersistence},
		{fmt.Errorf("export: %w", errors.New("disk full")), KindInternal},
		{fmt.Errorf("run: %w", &DataFetchError{Err: errors.New("offline")}), KindDataFetch},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}
}

func TestDeliveryError(t *testing.T) {
	primary := errors.New("535 auth failed")
	secondary := fmt.Errorf("sendmail: %w", context.DeadlineExceeded)

	err := &DeliveryError{Primary: primary, Secondary: secondary, Timeout: true}
	assert.ErrorIs(t, err, primary)
	assert.ErrorIs(t, err, secondary)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "timed out")

	err = &DeliveryError{Primary: primary, Secondary: errors.New("exit 75")}
	assert.Contains(t, err.Error(), "fallback: exit 75")
	assert.False(t, IsTimeout(err))
}

func TestDataFetchError(t *testing.T) {
	err := &DataFetchError{Err: context.DeadlineExceeded, Timeout: true}
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "timed out")
}
