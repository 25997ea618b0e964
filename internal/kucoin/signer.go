package kucoin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
)

// API key version sent with every request. Version 2 keys expect the
// passphrase header to be HMAC-signed rather than plaintext.
const apiKeyVersion = "2"

// hasBody reports whether method carries its params in the request body
func hasBody(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "DELETE":
		return false
	}
	return true
}

// CanonicalString builds the pre-signature string:
// timestamp + METHOD + "/" + endpoint [+ payload].
// For GET and DELETE the payload is left out entirely; the caller appends
// the query string to endpoint instead.
func CanonicalString(timestamp int64, method, endpoint, payload string) string {
	method = strings.ToUpper(method)

	var b strings.Builder
	b.Grow(20 + len(method) + 1 + len(endpoint) + len(payload))
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString(method)
	b.WriteByte('/')
	b.WriteString(endpoint)
	if hasBody(method) {
		b.WriteString(payload)
	}
	return b.String()
}

// Sign returns the KC-API-SIGN value for a request
func Sign(timestamp int64, method, endpoint, payload, secret string) string {
	return hmacBase64(CanonicalString(timestamp, method, endpoint, payload), secret)
}

// SignPassphrase returns the KC-API-PASSPHRASE value for a version 2 key
func SignPassphrase(passphrase, secret string) string {
	return hmacBase64(passphrase, secret)
}

func hmacBase64(message, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
