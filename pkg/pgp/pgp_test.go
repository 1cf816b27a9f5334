package pgp

import (
	"bytes"
	"fmt"
	"testing"

	"golang.org/x/crypto/openpgp"
)

func generateKey(t *testing.T, name string) (*openpgp.Entity, []byte) {
	t.Helper()
	entity, err := openpgp.NewEntity(name, "", name+"@example.com", nil)
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	var buf bytes.Buffer
	if err := entity.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return entity, buf.Bytes()
}

func sign(t *testing.T, entity *openpgp.Entity, message []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	if err := openpgp.DetachSign(&sig, entity, bytes.NewReader(message), nil); err != nil {
		t.Fatalf("DetachSign: %v", err)
	}
	return sig.Bytes()
}

func TestVerifyDetachedSucceeds(t *testing.T) {
	entity, pub := generateKey(t, "device-signing")
	ring, err := LoadKeyRing(pub)
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}

	message := []byte("index.json contents")
	sig := sign(t, entity, message)

	if err := ring.VerifyDetachedBytes(message, sig); err != nil {
		t.Errorf("VerifyDetachedBytes: %v", err)
	}
}

func TestVerifyDetachedWrongKeyFails(t *testing.T) {
	signer, _ := generateKey(t, "device-signing")
	_, otherPub := generateKey(t, "unrelated")

	ring, err := LoadKeyRing(otherPub)
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}

	message := []byte("index.json contents")
	sig := sign(t, signer, message)

	if err := ring.VerifyDetachedBytes(message, sig); err == nil {
		t.Error("expected verification against an unrelated keyring to fail")
	}
}

func TestVerifyDetachedBlacklistedKeyFails(t *testing.T) {
	entity, pub := generateKey(t, "device-signing")
	ring, err := LoadKeyRing(pub)
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}

	fps := ring.Fingerprints()
	if len(fps) != 1 {
		t.Fatalf("len(Fingerprints) = %d, want 1", len(fps))
	}
	blacklisted := ring.WithBlacklist(fps)

	message := []byte("index.json contents")
	sig := sign(t, entity, message)

	if err := blacklisted.VerifyDetachedBytes(message, sig); err == nil {
		t.Error("expected signature from a blacklisted key to be rejected")
	}
}

func TestLoadKeyRingEmptyFails(t *testing.T) {
	if _, err := LoadKeyRing([]byte("not a keyring")); err == nil {
		t.Error("expected LoadKeyRing to reject garbage input")
	}
}

func TestFingerprintsFormat(t *testing.T) {
	_, pub := generateKey(t, "archive-master")
	ring, err := LoadKeyRing(pub)
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}
	for _, fp := range ring.Fingerprints() {
		if len(fp) == 0 {
			t.Error("expected non-empty fingerprint")
		}
		for _, r := range fp {
			if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')) {
				t.Errorf("fingerprint %q contains non hex-uppercase rune %q", fp, fmt.Sprintf("%c", r))
			}
		}
	}
}
