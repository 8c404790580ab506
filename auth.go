package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	ticketExpiry   = 24 * time.Hour
	bcryptCost     = 10
	maxPasscodeLen = 64
	secretKey      = "jwt_secret"
)

var (
	ErrInvalidTicket = errors.New("invalid join ticket")
	ErrBadPasscode   = errors.New("wrong passcode")
)

// Auth issues and validates room join tickets
type Auth struct {
	secret []byte
	expiry time.Duration
}

// NewAuth creates an Auth whose signing secret is persisted in db when given
func NewAuth(db *DB) *Auth {
	return &Auth{secret: loadOrCreateSecret(db), expiry: ticketExpiry}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB) []byte {
	if db != nil {
		if h := db.GetSetting(secretKey); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting(secretKey, hex.EncodeToString(secret)); err != nil {
			slog.Warn("could not persist JWT secret", "err", err)
		}
	}
	return secret
}

// IssueTicket signs a ticket admitting its holder to room sid with role
func (a *Auth) IssueTicket(sid string, role PeerRole) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sid":  sid,
		"role": role.String(),
		"exp":  now.Add(a.expiry).Unix(),
		"iat":  now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseTicket validates a ticket and returns its room and role
func (a *Auth) ParseTicket(tokenStr string) (string, PeerRole, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", RoleResponder, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", RoleResponder, ErrInvalidTicket
	}
	sid, _ := claims["sid"].(string)
	roleStr, _ := claims["role"].(string)
	role, ok := ParsePeerRole(roleStr)
	if sid == "" || !ok {
		return "", RoleResponder, ErrInvalidTicket
	}
	return sid, role, nil
}

// HashPasscode hashes a room passcode. An empty passcode yields no hash.
func HashPasscode(passcode string) ([]byte, error) {
	if passcode == "" {
		return nil, nil
	}
	if len(passcode) > maxPasscodeLen {
		return nil, fmt.Errorf("passcode longer than %d characters", maxPasscodeLen)
	}
	return bcrypt.GenerateFromPassword([]byte(passcode), bcryptCost)
}

// CheckPasscode reports whether passcode opens a room with the given hash
func CheckPasscode(hash []byte, passcode string) error {
	if len(hash) == 0 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(passcode)); err != nil {
		return ErrBadPasscode
	}
	return nil
}
