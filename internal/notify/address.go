package notify

import (
	"net/mail"
	"strings"

	"github.com/reportcast/internal/apperrors"
)

// ValidateRecipients checks every address and fails on the first bad one.
// Only bare addresses are accepted; display-name forms are rejected so the
// stored list is exactly what ends up in the To header.
func ValidateRecipients(addrs []string) error {
	if len(addrs) == 0 {
		return &apperrors.InvalidRecipientError{Address: ""}
	}
	for _, a := range addrs {
		if !validAddress(a) {
			return &apperrors.InvalidRecipientError{Address: a}
		}
	}
	return nil
}

func validAddress(a string) bool {
	if a == "" || strings.TrimSpace(a) != a {
		return false
	}
	parsed, err := mail.ParseAddress(a)
	if err != nil || parsed.Address != a || parsed.Name != "" {
		return false
	}
	at := strings.LastIndex(a, "@")
	return at > 0 && strings.Contains(a[at+1:], ".")
}
