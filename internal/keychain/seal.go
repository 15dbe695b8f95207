package keychain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealKeySize   = 32
	sealNonceSize = 24
)

// ErrSealOpen is returned when stored data cannot be authenticated with the
// configured key.
var ErrSealOpen = errors.New("sealed data could not be opened")

// DecodeSealKey parses a hex-encoded 32-byte sealing key.
func DecodeSealKey(keyHex string) (*[sealKeySize]byte, error) {
	b, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding seal key: %w", err)
	}
	if len(b) != sealKeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", sealKeySize, len(b))
	}
	var key [sealKeySize]byte
	copy(key[:], b)
	return &key, nil
}

// GenerateSealKey returns a fresh random key encoded as hex.
func GenerateSealKey() (string, error) {
	var key [sealKeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(key[:]), nil
}

// SealedBackend encrypts entry data with NaCl secretbox (XSalsa20 and
// Poly1305) before handing it to the wrapped backend. Accounts and services
// stay in the clear so enumeration works unchanged.
type SealedBackend struct {
	Backend
	key *[sealKeySize]byte
}

// NewSealedBackend wraps inner so that all data at rest is sealed with key.
func NewSealedBackend(inner Backend, key *[sealKeySize]byte) *SealedBackend {
	return &SealedBackend{Backend: inner, key: key}
}

func (b *SealedBackend) seal(data []byte) ([]byte, error) {
	var nonce [sealNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], data, &nonce, b.key), nil
}

func (b *SealedBackend) open(sealed []byte) ([]byte, error) {
	if len(sealed) < sealNonceSize+secretbox.Overhead {
		return nil, ErrSealOpen
	}
	var nonce [sealNonceSize]byte
	copy(nonce[:], sealed[:sealNonceSize])
	data, ok := secretbox.Open(nil, sealed[sealNonceSize:], &nonce, b.key)
	if !ok {
		return nil, ErrSealOpen
	}
	return data, nil
}

func (b *SealedBackend) MatchOne(service, account string) ([]byte, error) {
	sealed, err := b.Backend.MatchOne(service, account)
	if err != nil {
		return nil, err
	}
	return b.open(sealed)
}

func (b *SealedBackend) Update(service, account string, data []byte) error {
	sealed, err := b.seal(data)
	if err != nil {
		return err
	}
	return b.Backend.Update(service, account, sealed)
}

func (b *SealedBackend) Add(service, account string, data []byte) error {
	sealed, err := b.seal(data)
	if err != nil {
		return err
	}
	return b.Backend.Add(service, account, sealed)
}
