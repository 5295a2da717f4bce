package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ivan-cavero/Ignis/internal/domain"
)

// SignaturePrefix precedes the hex digest in signature headers.
const SignaturePrefix = "sha256="

// Sign renders the HMAC-SHA256 of body under secret as "sha256=<hex>".
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header carries a valid signature of body. It fails
// closed: an empty secret never verifies.
func Verify(body []byte, header string, secret []byte) bool {
	return Check(body, header, secret) == nil
}

// Check is Verify with the rejection reason. Every returned error wraps
// domain.ErrSignatureInvalid.
func Check(body []byte, header string, secret []byte) error {
	if len(secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrSignatureInvalid)
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("%w: missing signature header", domain.ErrSignatureInvalid)
	}
	if !strings.HasPrefix(header, SignaturePrefix) {
		return fmt.Errorf("%w: unsupported signature scheme", domain.ErrSignatureInvalid)
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, SignaturePrefix))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", domain.ErrSignatureInvalid)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrSignatureInvalid)
	}
	return nil
}

// Service validates inbound webhook deliveries against the configured secret.
type Service struct {
	secret     []byte
	deliveries *DeliveryTracker
}

// New constructs a webhook service. The secret is used byte for byte; an
// empty or all-blank secret yields a service that rejects every delivery.
func New(secret string, deliveries *DeliveryTracker) Service {
	if strings.TrimSpace(secret) == "" {
		secret = ""
	}
	return Service{secret: []byte(secret), deliveries: deliveries}
}

// Configured reports whether a secret is present.
func (s Service) Configured() bool {
	return len(s.secret) > 0
}

// ValidateSignature checks the signature of payload.
func (s Service) ValidateSignature(payload []byte, provided string) error {
	return Check(payload, provided, s.secret)
}

// Claim reserves a delivery id and reports whether it has not been processed
// yet. Empty ids are always new.
func (s Service) Claim(deliveryID string) bool {
	if s.deliveries == nil {
		return true
	}
	return s.deliveries.Claim(deliveryID)
}

// Forget releases a claimed delivery id after a rejected or failed run.
func (s Service) Forget(deliveryID string) {
	if s.deliveries != nil {
		s.deliveries.Forget(deliveryID)
	}
}
