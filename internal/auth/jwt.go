package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "alert-escalation"

var (
	// ErrInvalidCredentials is returned by Login for a wrong username or password
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Claims represents JWT claims used by this service.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer signs HS256 tokens for the configured operator account.
type Issuer struct {
	secret   []byte
	ttl      time.Duration
	username string
	password string
	now      func() time.Time
}

// NewIssuer constructs an issuer.
func NewIssuer(secret []byte, ttl time.Duration, username, password string) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: non-positive token ttl")
	}
	return &Issuer{
		secret:   secret,
		ttl:      ttl,
		username: username,
		password: password,
		now:      time.Now,
	}, nil
}

// Login checks the credentials and issues a token for username.
func (i *Issuer) Login(username, password string) (string, time.Time, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(i.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(i.password)) == 1
	if i.username == "" || !userOK || !passOK {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return i.Issue(username)
}

// Issue signs a token for subject.
func (i *Issuer) Issue(subject string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseJWT validates a JWT and returns claims.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: missing subject")
	}
	return claims, nil
}
