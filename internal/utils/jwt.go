// Package utils holds token and hashing helpers shared by the server and
// the devicetoken tool.
package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token roles carried in the "role" claim.
const (
	RoleScanner   = "SCANNER"
	RoleOrganizer = "ORGANIZER"
)

var ErrInvalidToken = errors.New("invalid token")

// DeviceToken is a signed HS256 JWT issued to a scanner or dashboard device.
type DeviceToken struct {
	Token string
	Exp   time.Time
}

// DeviceClaims is what the server reads back from a token. Subject is the
// operator or device id recorded on every scan.
type DeviceClaims struct {
	Subject string
	Role    string
}

// NewDeviceToken signs a token for subject with role, valid for ttl.
func NewDeviceToken(secret, subject, role string, ttl time.Duration) (DeviceToken, error) {
	subject = strings.TrimSpace(subject)
	role = strings.ToUpper(strings.TrimSpace(role))
	if subject == "" {
		return DeviceToken{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	if role != RoleScanner && role != RoleOrganizer {
		return DeviceToken{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	})
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return DeviceToken{}, err
	}
	return DeviceToken{Token: signed, Exp: exp}, nil
}

// ParseDeviceToken verifies raw against secret and extracts its claims.
func ParseDeviceToken(secret, raw string) (DeviceClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return DeviceClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return DeviceClaims{}, fmt.Errorf("%w: claims", ErrInvalidToken)
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return DeviceClaims{}, fmt.Errorf("%w: missing sub or role", ErrInvalidToken)
	}
	return DeviceClaims{Subject: sub, Role: role}, nil
}
