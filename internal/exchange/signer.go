package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Signer produces the HMAC-SHA256 signature the venue requires over the
// request query string.
type Signer struct {
	apiKey string
	secret []byte
}

func NewSigner(apiKey, secret string) (*Signer, error) {
	apiKey = strings.TrimSpace(apiKey)
	secret = strings.TrimSpace(secret)
	if apiKey == "" || secret == "" {
		return nil, errors.New("api key and secret are required")
	}
	return &Signer{apiKey: apiKey, secret: []byte(secret)}, nil
}

func (s *Signer) APIKey() string {
	return s.apiKey
}

func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
