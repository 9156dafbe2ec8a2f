package securestore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	blobPrefix      = "FOKENC1\n"
	kdfInfo         = "fok-catalog/session-envelope"
)

var (
	ErrAuthFailed = errors.New("securestore authentication failed")
	ErrInvalid    = errors.New("securestore envelope is invalid")
	ErrLegacyData = errors.New("securestore legacy plaintext data")
)

// Envelope wraps a ciphertext together with everything needed to open it
// except the secret. Blobs are sealed on every session write, so the key is
// derived with HKDF from the long-lived service secret and a per-blob salt
// rather than a passphrase KDF.
type Envelope struct {
	Version    uint32 `json:"version"`
	KDF        string `json:"kdf"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// IsConfigured reports whether at-rest encryption is enabled. An empty
// secret means blobs are stored as plaintext JSON.
func IsConfigured(secret string) bool {
	return strings.TrimSpace(secret) != ""
}

func Encrypt(secret string, plaintext []byte) ([]byte, error) {
	env, err := EncryptEnvelope(secret, plaintext)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(blobPrefix), raw...), nil
}

func EncryptEnvelope(secret string, plaintext []byte) (*Envelope, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := deriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &Envelope{
		Version:    envelopeVersion,
		KDF:        "hkdf-sha256",
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

func Decrypt(secret string, data []byte) ([]byte, error) {
	if !strings.HasPrefix(string(data), blobPrefix) {
		return nil, ErrLegacyData
	}
	data = data[len(blobPrefix):]
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalid
	}
	return DecryptEnvelope(secret, &env)
}

func DecryptEnvelope(secret string, env *Envelope) ([]byte, error) {
	if env == nil || env.Version != envelopeVersion || env.KDF != "hkdf-sha256" {
		return nil, ErrInvalid
	}
	key, err := deriveKey(secret, env.Salt)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func deriveKey(secret string, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), salt, []byte(kdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
