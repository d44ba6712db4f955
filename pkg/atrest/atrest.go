// Package atrest provides optional at-rest encryption of a vector log's
// float payloads (spec.md §3's record layout, expanded by SPEC_FULL.md
// §4.9). It follows the teacher's pkg/encryption in shape — versioned key
// material derived from a passphrase, an authenticated cipher wrapping the
// plaintext — scaled down to the one concern this spec needs: payload
// confidentiality, not a general-purpose compliance toolkit. It implements
// vlog.Codec so it plugs into pkg/vlog without vlog itself importing any
// crypto package.
package atrest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrWrongPassphrase is returned when decryption fails authentication,
	// meaning the passphrase (or key rotation id) does not match the data.
	ErrWrongPassphrase = errors.New("atrest: decryption failed (wrong passphrase or corrupt data)")
	// ErrShortCiphertext is returned when a stored payload is too small to
	// contain a nonce and authentication tag.
	ErrShortCiphertext = errors.New("atrest: ciphertext shorter than nonce+tag")
)

// pbkdf2Iterations follows the teacher's OWASP-recommended default.
const pbkdf2Iterations = 600000

// DeriveKey derives a ChaCha20-Poly1305 key from a passphrase and salt via
// PBKDF2-HMAC-SHA256, matching the teacher's key-derivation approach.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, chacha20poly1305.KeySize, sha256.New)
}

// Codec implements vlog.Codec, encrypting each record's float payload with
// a single active key. Unlike the teacher's KeyManager, which retains a
// history of keys for rotation, this codec holds exactly one: the vector
// log's fixed dimension and single-writer model make in-place multi-key
// rotation unnecessary — an operator rotates by re-encrypting (read-all,
// write-new-log) instead. keyID is stamped into every ciphertext's
// additional authenticated data so a stale-key payload fails to decrypt
// rather than silently succeeding after a rotation.
type Codec struct {
	keyID uint32
	aead  cipherAEAD
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// New builds an encrypting codec from a passphrase, salt, and key rotation
// id.
func New(passphrase string, salt []byte, keyID uint32) (*Codec, error) {
	aead, err := chacha20poly1305.New(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("atrest: build cipher: %w", err)
	}
	return &Codec{keyID: keyID, aead: aead}, nil
}

// Encode encrypts vector as raw little-endian float32 bytes under a fresh
// random nonce, returning nonce || ciphertext || tag.
func (c *Codec) Encode(vector []float32) ([]byte, error) {
	plain := make([]byte, len(vector)*4)
	for i, f := range vector {
		binary.LittleEndian.PutUint32(plain[i*4:i*4+4], math.Float32bits(f))
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("atrest: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plain, c.aad())
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decode reverses Encode. dimension is the declared vector width, used to
// validate the decrypted payload length.
func (c *Codec) Decode(data []byte, dimension uint32) ([]float32, error) {
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return nil, ErrShortCiphertext
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := c.aead.Open(nil, nonce, ciphertext, c.aad())
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	if uint32(len(plain)) != dimension*4 {
		return nil, fmt.Errorf("atrest: decrypted payload %d bytes, want %d", len(plain), dimension*4)
	}
	out := make([]float32, dimension)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(plain[i*4 : i*4+4]))
	}
	return out, nil
}

func (c *Codec) aad() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, c.keyID)
	return b
}

// NewSalt generates a random salt suitable for DeriveKey/New, sized to
// chacha20poly1305's key size for simplicity.
func NewSalt() ([]byte, error) {
	salt := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("atrest: generate salt: %w", err)
	}
	return salt, nil
}
