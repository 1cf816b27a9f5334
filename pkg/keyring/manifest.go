// Package keyring downloads, verifies, and installs the trust-hierarchy
// keyring tarballs: archive-master, image-master, image-signing,
// device-signing, and the blacklist. A keyring tarball is a .tar.xz
// containing a keyring.gpg (the OpenPGP public keyring itself) and a
// keyring.json manifest describing its type, optional device model, and
// expiry.
package keyring

import (
	"encoding/json"
	"time"

	rerrors "github.com/otaresolve/resolver/pkg/errors"
)

// Type names a position in the trust hierarchy.
type Type string

const (
	TypeArchiveMaster Type = "archive-master"
	TypeImageMaster   Type = "image-master"
	TypeImageSigning  Type = "image-signing"
	TypeDeviceSigning Type = "device-signing"
	TypeBlacklist     Type = "blacklist"
)

// Manifest is the decoded keyring.json sidecar shipped inside every
// keyring tarball.
type Manifest struct {
	Type   Type   `json:"type"`
	Model  string `json:"model,omitempty"`
	Expiry int64  `json:"expiry,omitempty"`
}

// ParseManifest decodes a keyring.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, rerrors.Keyringf("keyring.json malformed: %v", err)
	}
	return &m, nil
}

// Validate checks the manifest against the keyring type it was expected to
// be and the device model being updated, per the keyring-acceptance
// invariants: a type mismatch or model mismatch or expired timestamp is
// always a fatal KindKeyring error, never retried.
func (m *Manifest) Validate(wantType Type, device string, now time.Time) error {
	if m.Type != wantType {
		return rerrors.Keyringf("keyring type mismatch; wanted: %s, got: %s", wantType, m.Type).
			WithField("wanted", string(wantType)).WithField("got", string(m.Type))
	}
	if m.Model != "" && m.Model != device {
		return rerrors.Keyringf("keyring model mismatch; wanted: %s, got: %s", device, m.Model).
			WithField("wanted", device).WithField("got", m.Model)
	}
	if m.Expiry != 0 && m.Expiry <= now.Unix() {
		return rerrors.Keyring("expired keyring timestamp").WithField("expiry", m.Expiry)
	}
	return nil
}
