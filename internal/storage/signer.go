package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// URLSigner mints and verifies HMAC-signed asset URLs. The signature
// covers the storage key and the expiry timestamp, so a URL cannot be
// replayed for another key or extended after issue.
type URLSigner struct {
	baseURL string
	key     []byte
}

func NewURLSigner(baseURL, signKey string) (*URLSigner, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("storage: base URL is required")
	}
	if strings.TrimSpace(signKey) == "" {
		return nil, errors.New("storage: sign key is required")
	}
	return &URLSigner{baseURL: baseURL, key: []byte(signKey)}, nil
}

// Sign produces a URL of the form base/key?expires=unix&sig=hex.
func (s *URLSigner) Sign(key string, expires time.Time) string {
	exp := strconv.FormatInt(expires.Unix(), 10)
	values := url.Values{}
	values.Set("expires", exp)
	values.Set("sig", s.signature(key, exp))
	return fmt.Sprintf("%s/%s?%s", s.baseURL, key, values.Encode())
}

// Verify checks the signature and expiry for a key. It returns an error
// for tampered signatures and for URLs past their expiry.
func (s *URLSigner) Verify(key, expires, sig string, now time.Time) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return errors.New("storage: malformed expiry")
	}
	if now.Unix() > exp {
		return errors.New("storage: URL expired")
	}
	want := s.signature(key, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return errors.New("storage: signature mismatch")
	}
	return nil
}

func (s *URLSigner) signature(key, expires string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}
