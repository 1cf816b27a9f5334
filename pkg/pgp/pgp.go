// Package pgp verifies detached OpenPGP signatures over downloaded
// artifacts, the way golang.org/x/crypto/openpgp is used across the
// example pack for exactly this purpose.
package pgp

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/crypto/openpgp"

	rerrors "github.com/otaresolve/resolver/pkg/errors"
)

// KeyRing wraps a loaded set of OpenPGP public keys together with the
// fingerprints of any keys that have been revoked via a blacklist, so
// verification can reject a technically-valid signature from a key that
// has since been blacklisted.
type KeyRing struct {
	entities  openpgp.EntityList
	blacklist map[string]bool
}

// LoadKeyRing loads a keyring from data, trying armored ASCII format first
// and falling back to raw binary, mirroring the two-step load pattern used
// to accept either form of an OpenPGP public keyring.
func LoadKeyRing(data []byte) (*KeyRing, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, rerrors.Keyring("keyring data is neither armored nor binary OpenPGP").WithField("cause", err.Error())
		}
	}
	if len(entities) == 0 {
		return nil, rerrors.Keyring("keyring contains no keys")
	}
	return &KeyRing{entities: entities}, nil
}

// Fingerprints returns the hex-encoded fingerprint of every public key in
// the ring.
func (k *KeyRing) Fingerprints() []string {
	out := make([]string, 0, len(k.entities))
	for _, e := range k.entities {
		if e.PrimaryKey == nil {
			continue
		}
		out = append(out, fmt.Sprintf("%X", e.PrimaryKey.Fingerprint))
	}
	return out
}

// WithBlacklist returns a copy of the keyring whose signing keys are
// additionally checked against blacklist, a set of hex-encoded
// fingerprints invalidated by the image-master-signed blacklist
// keyring. A signature made by a blacklisted key is rejected even though
// it is otherwise cryptographically valid.
func (k *KeyRing) WithBlacklist(blacklist []string) *KeyRing {
	set := make(map[string]bool, len(blacklist))
	for _, fp := range blacklist {
		set[fp] = true
	}
	return &KeyRing{entities: k.entities, blacklist: set}
}

// VerifyDetached checks a detached signature over signed, using this
// keyring. It returns a *errors.ResolverError of kind KindSignature on any
// failure: the signature doesn't verify, or it verifies against a key
// whose fingerprint has been blacklisted.
func (k *KeyRing) VerifyDetached(signed, signature io.Reader) error {
	signer, err := openpgp.CheckDetachedSignature(k.entities, signed, signature)
	if err != nil {
		return rerrors.Signature("detached signature verification failed", err)
	}
	if signer == nil || signer.PrimaryKey == nil {
		return rerrors.Signature("signature verified against an unknown key", nil)
	}
	fp := fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint)
	if k.blacklist[fp] {
		return rerrors.Signature(fmt.Sprintf("signing key %s has been blacklisted", fp), nil)
	}
	return nil
}

// VerifyDetachedBytes is a convenience wrapper over VerifyDetached for
// callers holding the signed content and signature as byte slices, which
// is the common case once both have been downloaded or read from cache.
func (k *KeyRing) VerifyDetachedBytes(signed, signature []byte) error {
	return k.VerifyDetached(bytes.NewReader(signed), bytes.NewReader(signature))
}
