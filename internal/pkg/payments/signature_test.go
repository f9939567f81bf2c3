package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signHex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyConfirmationSignature(t *testing.T) {
	const secret = "test_key_secret"
	valid := signHex([]byte("order_ABC|pay_XYZ"), secret)

	tests := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
		secret    string
		want      bool
	}{
		{"valid", "order_ABC", "pay_XYZ", valid, secret, true},
		{"surrounding whitespace trimmed", "order_ABC", "pay_XYZ", "  " + valid + "  ", secret, true},
		{"uppercase hex accepted", "order_ABC", "pay_XYZ", strings.ToUpper(valid), secret, true},
		{"wrong secret", "order_ABC", "pay_XYZ", signHex([]byte("order_ABC|pay_XYZ"), "other"), secret, false},
		{"swapped ids", "pay_XYZ", "order_ABC", valid, secret, false},
		{"empty signature", "order_ABC", "pay_XYZ", "", secret, false},
		{"empty secret", "order_ABC", "pay_XYZ", valid, "", false},
		{"not hex", "order_ABC", "pay_XYZ", "zzzz", secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyConfirmationSignature(tt.orderID, tt.paymentID, tt.signature, tt.secret)
			if got != tt.want {
				t.Fatalf("VerifyConfirmationSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Flipping any single hex character of a valid signature must fail
// verification.
func TestVerifyConfirmationSignatureSingleCharMutation(t *testing.T) {
	const secret = "test_key_secret"
	valid := signHex([]byte("order_ABC|pay_XYZ"), secret)

	for i := 0; i < len(valid); i++ {
		mutated := []byte(valid)
		if mutated[i] == '0' {
			mutated[i] = '1'
		} else {
			mutated[i] = '0'
		}
		assert.False(t, VerifyConfirmationSignature("order_ABC", "pay_XYZ", string(mutated), secret),
			"mutation at position %d must not verify", i)
	}
}

func TestVerifyWebhookSignatureExactBytes(t *testing.T) {
	const secret = "webhook_secret"
	body := []byte(`{"event":"payment.captured","payload":{}}`)

	assert.True(t, VerifyWebhookSignature(body, signHex(body, secret), secret))

	// Re-serialized body with different whitespace must not verify against
	// the original signature.
	reserialized := []byte(`{"event": "payment.captured", "payload": {}}`)
	assert.False(t, VerifyWebhookSignature(reserialized, signHex(body, secret), secret))
}
