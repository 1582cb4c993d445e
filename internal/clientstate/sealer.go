package clientstate

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidToken = errors.New("invalid client state token")

// Sealer encrypts small payloads with AES-256-GCM. Keys are derived from
// secrets; the first one seals, all of them open.
type Sealer struct {
	currentKeyID string
	keys         map[string][]byte
}

func NewSealer(current string, previous ...string) (*Sealer, error) {
	if strings.TrimSpace(current) == "" {
		return nil, fmt.Errorf("current secret is empty")
	}
	s := &Sealer{keys: map[string][]byte{}}
	for i, secret := range append([]string{current}, previous...) {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		id, key := deriveKey(secret)
		if i == 0 {
			s.currentKeyID = id
		}
		s.keys[id] = key
	}
	return s, nil
}

func deriveKey(secret string) (id string, key []byte) {
	sum := sha256.Sum256([]byte("simplechat/client-state/" + secret))
	idSum := sha256.Sum256(sum[:])
	return hex.EncodeToString(idSum[:4]), sum[:]
}

// Seal returns "<key id>.<nonce>.<ciphertext>" with base64url parts.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	aead, err := newAEAD(s.keys[s.currentKeyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(s.currentKeyID))

	enc := base64.RawURLEncoding
	return s.currentKeyID + "." + enc.EncodeToString(nonce) + "." + enc.EncodeToString(ciphertext), nil
}

func (s *Sealer) Open(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	key, ok := s.keys[parts[0]]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q: %w", parts[0], ErrInvalidToken)
	}
	enc := base64.RawURLEncoding
	nonce, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", ErrInvalidToken)
	}
	ciphertext, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", ErrInvalidToken)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce size: %w", ErrInvalidToken)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", ErrInvalidToken)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
