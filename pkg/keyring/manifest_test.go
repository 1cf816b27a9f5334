package keyring

import (
	"testing"
	"time"

	rerrors "github.com/otaresolve/resolver/pkg/errors"
)

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`{"type":"device-signing","model":"mako","expiry":1893456000}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Type != TypeDeviceSigning || m.Model != "mako" || m.Expiry != 1893456000 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestParseManifestMalformed(t *testing.T) {
	if _, err := ParseManifest([]byte(`{`)); !rerrors.Is(err, rerrors.KindKeyring) {
		t.Fatalf("err = %v, want KeyringError", err)
	}
}

func TestManifestValidate(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name     string
		manifest Manifest
		wantType Type
		wantErr  bool
	}{
		{"matching type", Manifest{Type: TypeBlacklist}, TypeBlacklist, false},
		{"type mismatch", Manifest{Type: TypeImageSigning}, TypeBlacklist, true},
		{"matching model", Manifest{Type: TypeDeviceSigning, Model: "mako"}, TypeDeviceSigning, false},
		{"model mismatch", Manifest{Type: TypeDeviceSigning, Model: "manta"}, TypeDeviceSigning, true},
		{"absent model", Manifest{Type: TypeDeviceSigning}, TypeDeviceSigning, false},
		{"future expiry", Manifest{Type: TypeImageMaster, Expiry: now.Unix() + 1}, TypeImageMaster, false},
		{"expiry equal to now is expired", Manifest{Type: TypeImageMaster, Expiry: now.Unix()}, TypeImageMaster, true},
		{"past expiry", Manifest{Type: TypeImageMaster, Expiry: now.Unix() - 1}, TypeImageMaster, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate(tt.wantType, "mako", now)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !rerrors.Is(err, rerrors.KindKeyring) {
				t.Errorf("err kind = %v, want KeyringError", rerrors.KindOf(err))
			}
		})
	}
}
