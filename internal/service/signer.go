package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid or tampered token")

const linkSigLen = 16

// Signer authenticates browser session ids, both in the session cookie and in
// the deep-link token that links a session to a platform account.
type Signer struct {
	cookieKey []byte
	linkKey   []byte
}

// NewSigner derives separate keys for cookies and link tokens from secret, so
// a value of one kind never verifies as the other.
func NewSigner(secret string) *Signer {
	return &Signer{
		cookieKey: derive(secret, "session-cookie"),
		linkKey:   derive(secret, "link-token"),
	}
}

// SignSession returns the cookie value for sessionID: "<uuid>.<hex mac>".
func (s *Signer) SignSession(sessionID uuid.UUID) string {
	return sessionID.String() + "." + hex.EncodeToString(mac(s.cookieKey, sessionID[:]))
}

// VerifySession parses a cookie value produced by SignSession.
func (s *Signer) VerifySession(value string) (uuid.UUID, error) {
	idPart, sigPart, ok := strings.Cut(value, ".")
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	sessionID, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	sig, err := hex.DecodeString(sigPart)
	if err != nil || !hmac.Equal(sig, mac(s.cookieKey, sessionID[:])) {
		return uuid.Nil, ErrInvalidToken
	}
	return sessionID, nil
}

// LinkToken returns the deep-link payload for sessionID. It only uses the
// characters the platform allows in start parameters.
func (s *Signer) LinkToken(sessionID uuid.UUID) string {
	sig := hex.EncodeToString(mac(s.linkKey, sessionID[:]))[:linkSigLen]
	return hex.EncodeToString(sessionID[:]) + "_" + sig
}

// ParseLinkToken verifies a token produced by LinkToken.
func (s *Signer) ParseLinkToken(token string) (uuid.UUID, error) {
	idPart, sigPart, ok := strings.Cut(token, "_")
	if !ok || len(sigPart) != linkSigLen {
		return uuid.Nil, ErrInvalidToken
	}
	raw, err := hex.DecodeString(idPart)
	if err != nil || len(raw) != 16 {
		return uuid.Nil, ErrInvalidToken
	}
	sessionID, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	want := hex.EncodeToString(mac(s.linkKey, sessionID[:]))[:linkSigLen]
	if !hmac.Equal([]byte(sigPart), []byte(want)) {
		return uuid.Nil, ErrInvalidToken
	}
	return sessionID, nil
}

func derive(secret, purpose string) []byte {
	return mac([]byte(secret), []byte(purpose))
}

func mac(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
