package keyring

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	rerrors "github.com/otaresolve/resolver/pkg/errors"
	"github.com/otaresolve/resolver/pkg/logger"
	"github.com/otaresolve/resolver/pkg/pgp"
)

var log = logger.New("keyring")

// Store holds the loaded trust hierarchy: the archive-master keyring is
// read once from a pinned local path; image-master, image-signing, and
// device-signing keyrings are installed over the network, each one
// verified against the level above it. Once a blacklist is installed, every
// keyring in the store is checked against it.
type Store struct {
	mu        sync.RWMutex
	cacheDir  string
	device    string
	keyrings  map[Type]*pgp.KeyRing
	blacklist []string

	// Installer-visible partitions. When set, every verified keyring
	// tarball and its detached signature are deposited there for the
	// out-of-process installer: the cache partition for regular keyrings,
	// the data partition for the blacklist.
	cachePartition string
	dataPartition  string
}

// New creates an empty Store rooted at cacheDir for the named device.
func New(cacheDir, device string) *Store {
	return &Store{
		cacheDir: cacheDir,
		device:   device,
		keyrings: make(map[Type]*pgp.KeyRing),
	}
}

// SetPartitions names the installer-visible locations verified keyring
// tarballs are copied into. Either may be empty, which disables the copy.
func (s *Store) SetPartitions(cache, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachePartition = cache
	s.dataPartition = data
}

// LoadArchiveMaster reads the pinned, offline-distributed archive-master
// keyring from disk. It is never fetched over the network and is not
// itself signature-checked: it is the trust anchor.
func (s *Store) LoadArchiveMaster(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ring, err := pgp.LoadKeyRing(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyrings[TypeArchiveMaster] = ring
	return nil
}

// Get returns the currently installed keyring for typ, or nil if none has
// been installed yet.
func (s *Store) Get(typ Type) *pgp.KeyRing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyrings[typ]
}

// Install verifies a downloaded keyring tarball against the keyring one
// level up the hierarchy (verifierType), validates its manifest, applies
// the current blacklist, atomically writes it into the cache directory,
// and registers it in the store under typ.
//
// verifierType must already be installed (or, for image-master, be
// TypeArchiveMaster which is loaded from disk up front).
func (s *Store) Install(typ Type, verifierType Type, tarXZ, signature []byte) error {
	verifier := s.Get(verifierType)
	if verifier == nil {
		return keyringNotInstalled(verifierType)
	}
	if err := verifier.VerifyDetachedBytes(tarXZ, signature); err != nil {
		return err
	}

	gpgData, jsonData, err := unpackTarXZ(tarXZ)
	if err != nil {
		return err
	}
	manifest, err := ParseManifest(jsonData)
	if err != nil {
		return err
	}
	if err := manifest.Validate(typ, s.device, time.Now()); err != nil {
		return err
	}

	ring, err := pgp.LoadKeyRing(gpgData)
	if err != nil {
		return err
	}
	if len(s.blacklist) > 0 {
		ring = ring.WithBlacklist(s.blacklist)
	}

	if err := s.writeAtomic(s.cacheDir, string(typ)+".gpg", gpgData); err != nil {
		return err
	}
	if err := s.depositTarball(s.cachePartition, string(typ), tarXZ, signature); err != nil {
		return err
	}

	s.mu.Lock()
	s.keyrings[typ] = ring
	s.mu.Unlock()

	log.WithField("type", string(typ)).Info("keyring installed")
	return nil
}

// InstallBlacklist verifies and installs the blacklist keyring, whose
// fingerprints are applied to every keyring installed afterwards, and
// retroactively to every keyring already in the store.
func (s *Store) InstallBlacklist(tarXZ, signature []byte) error {
	imageMaster := s.Get(TypeImageMaster)
	if imageMaster == nil {
		return keyringNotInstalled(TypeImageMaster)
	}
	if err := imageMaster.VerifyDetachedBytes(tarXZ, signature); err != nil {
		return err
	}

	gpgData, jsonData, err := unpackTarXZ(tarXZ)
	if err != nil {
		return err
	}
	manifest, err := ParseManifest(jsonData)
	if err != nil {
		return err
	}
	if err := manifest.Validate(TypeBlacklist, s.device, time.Now()); err != nil {
		return err
	}

	ring, err := pgp.LoadKeyRing(gpgData)
	if err != nil {
		return err
	}

	if err := s.writeAtomic(s.cacheDir, "blacklist.gpg", gpgData); err != nil {
		return err
	}
	if err := s.depositTarball(s.dataPartition, "blacklist", tarXZ, signature); err != nil {
		return err
	}

	s.mu.Lock()
	s.blacklist = ring.Fingerprints()
	for typ, existing := range s.keyrings {
		s.keyrings[typ] = existing.WithBlacklist(s.blacklist)
	}
	s.keyrings[TypeBlacklist] = ring
	s.mu.Unlock()

	log.Info("blacklist installed")
	return nil
}

// depositTarball copies a verified keyring tarball and its detached
// signature into an installer-visible partition. A blank partition path
// disables the copy.
func (s *Store) depositTarball(partition, name string, tarXZ, signature []byte) error {
	if partition == "" {
		return nil
	}
	if err := s.writeAtomic(partition, name+".tar.xz", tarXZ); err != nil {
		return err
	}
	return s.writeAtomic(partition, name+".tar.xz.asc", signature)
}

// writeAtomic writes data to a sibling temp file under dir, syncs it, and
// renames it into place, so a crash mid-write never leaves a half-written
// keyring file where a reader expects a complete one.
func (s *Store) writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	final := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, final)
}

func keyringNotInstalled(typ Type) error {
	return rerrors.NotFoundf("%s keyring has not been installed", string(typ)).WithField("type", string(typ))
}
