package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names sent on authenticated order-service requests.
const (
	HeaderAddress    = "X-LO-ADDRESS"
	HeaderAPIKey     = "X-LO-API-KEY"
	HeaderTimestamp  = "X-LO-TIMESTAMP"
	HeaderPassphrase = "X-LO-PASSPHRASE"
	HeaderSignature  = "X-LO-SIGNATURE"
)

// HMACAuth holds the API credentials for the order service. Secret is
// base64 encoded.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
}

// Headers signs method+path+body for address at the current time.
func (h *HMACAuth) Headers(address, method, path, body string) map[string]string {
	return h.HeadersAt(address, method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp. The
// signature is base64(HMAC-SHA256(secret, ts+method+path+body)).
func (h *HMACAuth) HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secret, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		// Undecodable secrets sign with the raw bytes and are rejected
		// server side.
		secret = []byte(h.Secret)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + method + path + body))

	return map[string]string{
		HeaderAddress:    address,
		HeaderAPIKey:     h.Key,
		HeaderTimestamp:  ts,
		HeaderPassphrase: h.Passphrase,
		HeaderSignature:  base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
