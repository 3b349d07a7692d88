package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind names recorded on execution log entries.
const (
	KindConfiguration    = "configuration"
	KindDataFetch        = "data_fetch"
	KindInvalidRecipient = "invalid_recipient"
	KindDelivery         = "delivery"
	KindPersistence      = "persistence"
	KindInternal         = "internal"
)

// ConfigurationError reports a schedule whose cadence fields cannot be
// evaluated. It is never retried automatically.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid schedule configuration: %s: %s", e.Field, e.Reason)
}

// DataFetchError wraps a report data provider failure.
type DataFetchError struct {
	Err     error
	Timeout bool
}

func (e *DataFetchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("report data fetch timed out: %v", e.Err)
	}
	return fmt.Sprintf("failed to fetch report data: %v", e.Err)
}

func (e *DataFetchError) Unwrap() error { return e.Err }

type InvalidRecipientError struct {
	Address string
}

func (e *InvalidRecipientError) Error() string {
	return fmt.Sprintf("invalid recipient address: %q", e.Address)
}

// DeliveryError is returned once every permitted channel has failed.
// Secondary is nil when fallback was not attempted.
type DeliveryError struct {
	Primary   error
	Secondary error
	Timeout   bool
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("email delivery timed out: %v", e.last())
	case e.Secondary != nil:
		return fmt.Sprintf("email delivery failed: primary: %v; fallback: %v", e.Primary, e.Secondary)
	default:
		return fmt.Sprintf("email delivery failed: %v", e.Primary)
	}
}

func (e *DeliveryError) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Secondary != nil {
		errs = append(errs, e.Secondary)
	}
	return errs
}

func (e *DeliveryError) last() error {
	if e.Secondary != nil {
		return e.Secondary
	}
	return e.Primary
}

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Kind classifies err into one of the Kind* constants. A nil error yields "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		cfgErr   *ConfigurationError
		fetchErr *DataFetchError
		rcptErr  *InvalidRecipientError
		delivErr *DeliveryError
		persErr  *PersistenceError
	)
	switch {
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &rcptErr):
		return KindInvalidRecipient
	case errors.As(err, &persErr):
		return KindPersistence
	case errors.As(err, &fetchErr):
		return KindDataFetch
	case errors.As(err, &delivErr):
		return KindDelivery
	default:
		return KindInternal
	}
}

// IsTimeout reports whether err stems from an exceeded deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
