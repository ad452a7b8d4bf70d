package utils

import "golang.org/x/crypto/bcrypt"

// HashOverrideCode returns the bcrypt hash of a supervisor override code
// using the given cost.
func HashOverrideCode(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyOverrideCode compares an override code with its bcrypt hash. An
// empty hash or code never matches.
func VerifyOverrideCode(hash, plain string) bool {
	if hash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
