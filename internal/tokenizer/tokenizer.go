package tokenizer

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	tokenVersion = "v1."
	// DefaultTTL bounds how long a card token can be redeemed.
	DefaultTTL = 5 * time.Minute
)

var (
	ErrInvalidToken = errors.New("invalid card token")
	ErrExpired      = errors.New("card token expired")
)

// Card is raw card data. It never leaves the tokenizer/gateway pair unencrypted.
type Card struct {
	Number         string `json:"number"`
	HolderName     string `json:"holderName"`
	CVV            string `json:"cvv"`
	ExpirationDate string `json:"expirationDate"`
}

// Last4 is the only part of the number that may be logged.
func (c Card) Last4() string {
	if len(c.Number) <= 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

type sealed struct {
	Card      Card  `json:"card"`
	ExpiresAt int64 `json:"exp"`
}

// Tokenizer seals card data with XChaCha20-Poly1305. Tokens are
// "v1." + base64url(nonce || ciphertext) and carry their own expiry.
type Tokenizer struct {
	key     []byte
	ttl     time.Duration
	nowFunc func() time.Time
}

func New(key []byte, ttl time.Duration) (*Tokenizer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("tokenizer key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Tokenizer{key: k, ttl: ttl, nowFunc: time.Now}, nil
}

func (t *Tokenizer) Tokenize(card Card) (string, error) {
	aead, err := chacha20poly1305.NewX(t.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	plain, err := json.Marshal(sealed{Card: card, ExpiresAt: t.nowFunc().Add(t.ttl).Unix()})
	if err != nil {
		return "", fmt.Errorf("marshal card: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plain, []byte(tokenVersion))
	return tokenVersion + base64.RawURLEncoding.EncodeToString(out), nil
}

// Detokenize opens a token. Any decoding, authentication or expiry failure
// returns an error and a zero Card.
func (t *Tokenizer) Detokenize(token string) (Card, error) {
	if !strings.HasPrefix(token, tokenVersion) {
		return Card{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, tokenVersion))
	if err != nil {
		return Card{}, ErrInvalidToken
	}
	aead, err := chacha20poly1305.NewX(t.key)
	if err != nil {
		return Card{}, fmt.Errorf("init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return Card{}, ErrInvalidToken
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, []byte(tokenVersion))
	if err != nil {
		return Card{}, ErrInvalidToken
	}

	var s sealed
	if err := json.Unmarshal(plain, &s); err != nil {
		return Card{}, ErrInvalidToken
	}
	if !t.nowFunc().Before(time.Unix(s.ExpiresAt, 0)) {
		return Card{}, ErrExpired
	}
	return s.Card, nil
}
