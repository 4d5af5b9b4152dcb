package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier checks payment reconciliation signatures: hex HMAC-SHA256 over
// "orderId|paymentId" with a secret shared between the gateway account and
// this service's configuration.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Signature computes the expected signature for an order/payment pair.
func (v *Verifier) Signature(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares a provided signature against the expected one in constant
// time. Malformed hex fails closed.
func (v *Verifier) Verify(orderID, paymentID, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hmac.Equal(mac.Sum(nil), provided)
}
