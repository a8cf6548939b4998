package auth

import "strings"

// temporaryPasswordLength is what reset flows request from the generator.
const temporaryPasswordLength = 12

// resetReceipt builds the caller-visible outcome of a completed reset.
// The destination is masked: the receipt confirms delivery happened
// without echoing the address back to an unauthenticated caller.
func resetReceipt(destinationEmail, messageID string) *ResetReceipt {
	return &ResetReceipt{
		Message: "Temporary password set and sent via email",
		Delivery: Delivery{
			Destination:    maskEmail(destinationEmail),
			DeliveryMedium: "EMAIL",
			AttributeName:  "email",
			MessageID:      messageID,
		},
	}
}

// maskEmail keeps the first two characters and the final domain suffix:
// "take@test.com" becomes "ta***@***.com".
func maskEmail(address string) string {
	dot := strings.LastIndex(address, ".")
	if len(address) < 2 || dot < 0 {
		return "***@***.***"
	}
	return address[:2] + "***@***" + address[dot:]
}
