// Package msgcrypt implements the message signature and AES envelope used by
// WeCom callbacks.
package msgcrypt

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// Signature returns the lowercase hex SHA-1 of token, timestamp, nonce and
// extra after sorting them lexicographically and concatenating them.
// extra is the echostr on URL verification and the encrypted body on delivery.
func Signature(token, timestamp, nonce, extra string) string {
	parts := []string{token, timestamp, nonce, extra}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature reports whether signature matches the computed one.
// The comparison runs in constant time.
func VerifySignature(signature, token, timestamp, nonce, extra string) bool {
	expected := Signature(token, timestamp, nonce, extra)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
