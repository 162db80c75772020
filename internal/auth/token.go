package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// User types carried in the token's "user" claim.
const (
	TypeCustomer = "customer"
	TypeDriver   = "driver"
	TypeInternal = "internal"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the decoded identity we act on. Token issuance lives in the
// authentication service; this package only verifies.
type Claims struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed tokens against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the token and returns its claims.
// A token without a user_id claim is rejected.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewInternalToken mints a service-to-service token. Internal tokens carry no
// expiry; processes mint one at startup and hold it for their lifetime.
func NewInternalToken(secret, serviceID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   serviceID,
		UserType: TypeInternal,
	})
	return token.SignedString([]byte(secret))
}

// TrackingClaims authorize a customer to follow one driver's live position.
type TrackingClaims struct {
	CustomerID string `json:"customer_id"`
	DriverID   string `json:"driver_id"`
	jwt.RegisteredClaims
}

// NewTrackingToken mints a grant for one customer to follow one driver.
func NewTrackingToken(secret, customerID, driverID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TrackingClaims{
		CustomerID: customerID,
		DriverID:   driverID,
	})
	return token.SignedString([]byte(secret))
}

// VerifyTracking validates a tracking token against the tracking secret.
func VerifyTracking(secret, tokenString string) (*TrackingClaims, error) {
	claims := &TrackingClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.DriverID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
