package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Temporary password policy: bounds plus one character from each class.
const (
	temporaryPasswordMinLength = 8
	temporaryPasswordMaxLength = 256

	passwordUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	passwordLowercase = "abcdefghijklmnopqrstuvwxyz"
	passwordDigits    = "0123456789"
	passwordSymbols   = "!@#$%^&*()_+-=[]{}|;':\",./<>?"
)

// GenerateTemporaryPassword produces a password of the given length with
// at least one uppercase letter, one lowercase letter, one digit, and one
// symbol. Lengths below the minimum are raised to it; lengths above the
// maximum are an error. The final order is shuffled with crypto/rand so
// the mandatory characters do not sit at predictable positions.
func GenerateTemporaryPassword(length int) (string, error) {
	if length < temporaryPasswordMinLength {
		length = temporaryPasswordMinLength
	}
	if length > temporaryPasswordMaxLength {
		return "", fmt.Errorf("password length %d exceeds maximum of %d", length, temporaryPasswordMaxLength)
	}

	all := passwordUppercase + passwordLowercase + passwordDigits + passwordSymbols

	password := make([]byte, 0, length)
	for _, class := range []string{passwordUppercase, passwordLowercase, passwordDigits, passwordSymbols} {
		ch, err := randomChar(class)
		if err != nil {
			return "", err
		}
		password = append(password, ch)
	}
	for len(password) < length {
		ch, err := randomChar(all)
		if err != nil {
			return "", err
		}
		password = append(password, ch)
	}

	if err := shuffleBytes(password); err != nil {
		return "", err
	}
	return string(password), nil
}

func randomChar(alphabet string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, err
	}
	return alphabet[idx.Int64()], nil
}

// shuffleBytes is a Fisher-Yates shuffle driven by crypto/rand.
func shuffleBytes(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		b[i], b[j.Int64()] = b[j.Int64()], b[i]
	}
	return nil
}
