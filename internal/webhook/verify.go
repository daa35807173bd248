package webhook

import (
	"errors"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v66/github"
)

// ErrInvalidSignature is returned when a delivery is not signed with the
// configured secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature checks the X-Hub-Signature-256 header of a delivery.
// go-github compares the HMAC in constant time.
func VerifySignature(payload []byte, signature, secret string) error {
	if err := ValidateSignatureHeader(signature); err != nil {
		return err
	}
	if err := gh.ValidateSignature(signature, payload, []byte(secret)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// ValidateSignatureHeader rejects headers that are not "sha256=<hash>".
func ValidateSignatureHeader(header string) error {
	if header == "" {
		return fmt.Errorf("%w: missing X-Hub-Signature-256 header", ErrInvalidSignature)
	}
	if !strings.HasPrefix(header, "sha256=") {
		return fmt.Errorf("%w: expected 'sha256=<hash>'", ErrInvalidSignature)
	}
	return nil
}
