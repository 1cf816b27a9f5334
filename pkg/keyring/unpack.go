package keyring

import (
	"archive/tar"
	"bytes"
	"io"

	"github.com/ulikunitz/xz"

	rerrors "github.com/otaresolve/resolver/pkg/errors"
)

// unpackTarXZ decompresses a .tar.xz keyring tarball and returns the raw
// contents of its keyring.gpg and keyring.json members. Non-regular entries
// are skipped; any other regular member, or a member count other than two,
// is rejected with a KindKeyring error.
func unpackTarXZ(data []byte) (gpgData, jsonData []byte, err error) {
	xr, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, rerrors.Keyringf("keyring tarball is not valid xz: %v", err)
	}
	tr := tar.NewReader(xr)
	members := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, rerrors.Keyringf("keyring tarball is corrupt: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		members++
		switch hdr.Name {
		case "keyring.gpg":
			gpgData, err = io.ReadAll(tr)
			if err != nil {
				return nil, nil, rerrors.Keyringf("reading keyring.gpg: %v", err)
			}
		case "keyring.json":
			jsonData, err = io.ReadAll(tr)
			if err != nil {
				return nil, nil, rerrors.Keyringf("reading keyring.json: %v", err)
			}
		default:
			return nil, nil, rerrors.Keyringf("keyring tarball has unexpected member %q", hdr.Name)
		}
	}
	if members != 2 {
		return nil, nil, rerrors.Keyringf("keyring tarball must contain exactly 2 members, got %d", members)
	}
	if gpgData == nil {
		return nil, nil, rerrors.Keyring("keyring tarball missing keyring.gpg")
	}
	if jsonData == nil {
		return nil, nil, rerrors.Keyring("keyring tarball missing keyring.json")
	}
	return gpgData, jsonData, nil
}
