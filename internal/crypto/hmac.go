package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the L2 credentials for authenticated CLOB requests.
type HMACAuth struct {
	Key        string // API key
	Secret     string // base64 (URL-safe or standard) encoded secret
	Passphrase string
}

// Empty reports whether no credentials have been configured yet.
func (h *HMACAuth) Empty() bool {
	return h == nil || h.Key == "" || h.Secret == ""
}

// L2Headers returns the headers for an authenticated CLOB request signed with
// HMAC-SHA256(secret, timestamp+method+path+body).
func (h *HMACAuth) L2Headers(address, method, path, body string) map[string]string {
	return h.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is like L2Headers with a caller-supplied unix timestamp.
func (h *HMACAuth) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256(decodeSecret(h.Secret), ts+method+path+body)

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    h.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": h.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}

// L1Headers returns the wallet-signed headers used to derive API credentials.
func (s *Signer) L1Headers(unixTS, nonce int64) (map[string]string, error) {
	addr := s.Address().Hex()
	sig, err := s.SignAuthMessage(addr, unixTS, nonce)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":   addr,
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": strconv.FormatInt(unixTS, 10),
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}, nil
}

// decodeSecret accepts the URL-safe encoding the CLOB issues as well as the
// standard one. Undecodable secrets are used raw so the server rejects them.
func decodeSecret(secret string) []byte {
	if b, err := base64.URLEncoding.DecodeString(secret); err == nil {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(secret); err == nil {
		return b
	}
	return []byte(secret)
}

// hmacSHA256 signs message with key and returns URL-safe base64.
func hmacSHA256(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	mask := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", mask(h.Key), mask(h.Secret))
}
