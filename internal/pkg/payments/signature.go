package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyConfirmationSignature checks the signature a client submits after
// completing checkout. The gateway signs "orderID|paymentID" with the key
// secret using HMAC-SHA256; comparison is constant time via hmac.Equal.
func VerifyConfirmationSignature(orderID, paymentID, signature, secret string) bool {
	return verifySignedPayload([]byte(orderID+"|"+paymentID), signature, secret)
}

// VerifyWebhookSignature checks a webhook signature over the exact raw body
// bytes as received. The body must not be re-serialized before calling this.
func VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	return verifySignedPayload(rawBody, signature, secret)
}

func verifySignedPayload(payload []byte, signature, secret string) bool {
	sig := strings.TrimSpace(signature)
	sec := strings.TrimSpace(secret)
	if sig == "" || sec == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(sec))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}
