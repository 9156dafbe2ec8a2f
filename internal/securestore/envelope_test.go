package securestore

import (
	"errors"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	data, err := Encrypt("svc-secret", []byte(`{"flow":"registration"}`))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := Decrypt("svc-secret", data)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plain) != `{"flow":"registration"}` {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
}

func TestDecryptWrongSecretFails(t *testing.T) {
	data, err := Encrypt("svc-secret", []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := Decrypt("other-secret", data); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptTamperedFailsDeterministically(t *testing.T) {
	data, err := Encrypt("svc-secret", []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(data) < 10 {
		t.Fatalf("unexpected encrypted payload size: %d", len(data))
	}
	data[len(data)-2] ^= 0xFF
	_, err = Decrypt("svc-secret", data)
	if !errors.Is(err, ErrAuthFailed) && !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptPlaintextBlobReportsLegacy(t *testing.T) {
	if _, err := Decrypt("svc-secret", []byte(`{"flow":"registration"}`)); !errors.Is(err, ErrLegacyData) {
		t.Fatalf("expected ErrLegacyData, got %v", err)
	}
}

func TestEncryptProducesFreshSaltAndNonce(t *testing.T) {
	a, err := EncryptEnvelope("svc-secret", []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	b, err := EncryptEnvelope("svc-secret", []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if string(a.Salt) == string(b.Salt) {
		t.Fatalf("salt must be fresh per envelope")
	}
	if string(a.Nonce) == string(b.Nonce) {
		t.Fatalf("nonce must be fresh per envelope")
	}
}

func TestIsConfigured(t *testing.T) {
	if IsConfigured("  ") {
		t.Fatalf("blank secret must not count as configured")
	}
	if !IsConfigured("s") {
		t.Fatalf("non-blank secret must count as configured")
	}
}
