package meta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const SignatureHeader = "X-Hub-Signature-256"

var (
	ErrMissingSignature   = errors.New("meta: missing signature header")
	ErrMalformedSignature = errors.New("meta: malformed signature header")
	ErrSignatureMismatch  = errors.New("meta: signature mismatch")
)

// VerifySignature checks header ("sha256=<hex>") against HMAC-SHA256(secret, body).
func VerifySignature(secret string, body []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrMalformedSignature
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil || len(got) != sha256.Size {
		return ErrMalformedSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign returns the header value Meta would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
