package confirmation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const codePrefix = "EVR1"

var (
	// ErrMalformedCode is returned when a scanned code cannot be parsed.
	ErrMalformedCode = errors.New("malformed confirmation code")
	// ErrBadSignature is returned when the code was not issued with our secret.
	ErrBadSignature = errors.New("confirmation signature mismatch")
)

// Claims is the data carried inside a confirmation QR code.
type Claims struct {
	RegistrationID   string `json:"rid"`
	StudentName      string `json:"name"`
	College          string `json:"col"`
	Event            string `json:"evt"`
	Amount           int64  `json:"amt"`
	UTRNumber        string `json:"utr"`
	RegistrationDate string `json:"reg"`
	IssuedAt         int64  `json:"iat"`
}

// Signer creates and validates HMAC-signed confirmation codes of the form
// EVR1.<base64url payload>.<hex signature>.
type Signer struct {
	secret []byte
}

// NewSigner constructs a signer with the provided secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign encodes claims into a printable code.
func (s *Signer) Sign(claims Claims) (string, error) {
	if claims.RegistrationID == "" {
		return "", fmt.Errorf("registration id required")
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("signing secret missing")
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return strings.Join([]string{codePrefix, encoded, s.mac(encoded)}, "."), nil
}

// Verify checks the signature of code and returns its claims.
func (s *Signer) Verify(code string) (*Claims, error) {
	parts := strings.Split(strings.TrimSpace(code), ".")
	if len(parts) != 3 || parts[0] != codePrefix {
		return nil, ErrMalformedCode
	}
	encoded, signature := parts[1], parts[2]

	expected := s.mac(encoded)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return nil, ErrBadSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedCode
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil || claims.RegistrationID == "" {
		return nil, ErrMalformedCode
	}
	return &claims, nil
}

func (s *Signer) mac(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(codePrefix + "." + encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
