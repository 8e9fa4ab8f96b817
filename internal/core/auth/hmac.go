package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// StringToSign is the message a client signs: the key ID, the gRPC method
// and the request timestamp, newline separated.
func StringToSign(keyID, method string, ts time.Time) string {
	return keyID + "\n" + method + "\n" + ts.UTC().Format(time.RFC3339)
}

// ComputeHMAC computes the hex HMAC-SHA256 signature of msg.
func ComputeHMAC(secret []byte, msg string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC compares signatures in constant time.
func VerifyHMAC(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
