package store

import (
	"context"
	"crypto/rand"
	"time"
)

// PairingRecord links a not-yet-trusted channel identity (a Telegram user
// ID, a Discord snowflake, ...) to an agent, pending operator approval.
type PairingRecord struct {
	Code      string    `json:"code"` // 8-char code from ABCDEFGHJKLMNPQRSTUVWXYZ23456789
	Channel   string    `json:"channel"`
	PeerID    string    `json:"peerId"`
	ChatID    string    `json:"chatId"` // where to deliver the approval notice; differs from PeerID in group chats
	Agent     string    `json:"agent"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PairingStore persists pending and approved channel pairings.
type PairingStore interface {
	Create(ctx context.Context, p *PairingRecord) error
	GetByCode(ctx context.Context, code string) (*PairingRecord, error)
	Approve(ctx context.Context, code string) error
	ListPending(ctx context.Context) ([]PairingRecord, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// RequestPairing generates a fresh code, creates a pending record for
	// (channel, peerID, agent) with a 1h TTL, and returns the code. Channel
	// adapters call this synchronously from their update-handling goroutine,
	// so it takes no context.
	RequestPairing(peerID, channel, chatID, agent string) (string, error)
}

// pairingCodeAlphabet avoids visually ambiguous characters (0/O, 1/I/L).
const pairingCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// pairingTTL is how long an unapproved pairing code remains valid.
const pairingTTL = time.Hour

// NewPairingCode generates a fresh 8-character pairing code.
func NewPairingCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, 8)
	for i, b := range buf {
		code[i] = pairingCodeAlphabet[int(b)%len(pairingCodeAlphabet)]
	}
	return string(code), nil
}
