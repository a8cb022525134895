package server

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"

	"github.com/google/go-github/v57/github"
)

// Signature headers, in order of preference.
const (
	SignatureHeader256 = "X-Hub-Signature-256"
	SignatureHeader    = "X-Hub-Signature"
)

// Supported signature algorithms
const (
	AlgoSHA1   = "sha1"
	AlgoSHA256 = "sha256"
	AlgoSHA512 = "sha512"
)

// VerifySignature checks an "<algo>=<hex digest>" header value against the
// HMAC of the raw payload. It returns false for an empty secret and for any
// missing or malformed signature.
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	return github.ValidateSignature(signature, payload, []byte(secret)) == nil
}

// SignatureFromHeader returns the signature GitHub sent with a request,
// preferring the SHA-256 header.
func SignatureFromHeader(h http.Header) string {
	if sig := h.Get(SignatureHeader256); sig != "" {
		return sig
	}
	return h.Get(SignatureHeader)
}

// Sign returns the header value for payload signed with secret.
func Sign(payload []byte, secret, algo string) (string, error) {
	var fn func() hash.Hash
	switch algo {
	case AlgoSHA1:
		fn = sha1.New
	case AlgoSHA256:
		fn = sha256.New
	case AlgoSHA512:
		fn = sha512.New
	default:
		return "", fmt.Errorf("unsupported signature algorithm: %s", algo)
	}

	mac := hmac.New(fn, []byte(secret))
	mac.Write(payload)
	return algo + "=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// HeaderFor returns the header name a signature of algo is sent in.
func HeaderFor(algo string) string {
	if algo == AlgoSHA1 {
		return SignatureHeader
	}
	return SignatureHeader256
}
