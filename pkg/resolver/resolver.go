// Package resolver implements the update state machine: a FIFO queue of
// steps, where a step can recover from a trust-chain failure by pushing a
// recovery step onto the *front* of the queue, so it runs immediately,
// before whatever was already queued.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/otaresolve/resolver/pkg/candidates"
	"github.com/otaresolve/resolver/pkg/download"
	rerrors "github.com/otaresolve/resolver/pkg/errors"
	"github.com/otaresolve/resolver/pkg/index"
	"github.com/otaresolve/resolver/pkg/installer"
	"github.com/otaresolve/resolver/pkg/keyring"
	"github.com/otaresolve/resolver/pkg/logger"
	"github.com/otaresolve/resolver/pkg/observability"
	"github.com/otaresolve/resolver/pkg/otaconfig"
	"github.com/otaresolve/resolver/pkg/scorer"
)

var log = logger.New("resolver")

// Path names a per-content-kind chosen or candidate upgrade chain.
type Path = candidates.Path

// Fetcher is the minimal contract the state machine needs from the
// transport layer: fetch a URL's body into memory. pkg/download.Downloader
// satisfies a richer contract than this; Machine only ever needs whole
// small documents (channels.json, index.json, keyring tarballs) fetched
// synchronously, one step at a time, since the machine itself is
// single-threaded cooperative.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) ([][]byte, error)
}

// FileDownloader is the concurrent, all-or-nothing bulk fetcher used only
// by the terminal download_files step, satisfied by *pkg/download.Downloader.
type FileDownloader interface {
	GetFiles(ctx context.Context, requests []download.Request, progress download.ProgressFunc) error
}

// step is one unit of state-machine work. A step that fails with a
// signature error at one of the two recoverable points has its failure
// turned into a recovery step pushed to the front of the queue; every
// other error is fatal and stops Run.
type step struct {
	name string
	fn   func(m *Machine, ctx context.Context) error
}

// Machine holds the pending-step queue and every artifact learned while
// running it.
type Machine struct {
	cfg        *otaconfig.Config
	store      *keyring.Store
	fetcher    Fetcher
	downloader FileDownloader
	scratchDir string
	baseURL    string
	tel        *observability.Telemetry
	notifier   installer.Notifier

	// CurrentBuild is the device's current build number, read from the
	// build file named in configuration before the machine is run.
	CurrentBuild int

	queue []step

	// recovered tracks which steps already spent their one recovery edge
	// this run. A second trust failure on the same step is fatal.
	recovered map[string]bool

	dryRun bool

	// Artifacts learned while running, exported for inspection after a run.
	Blacklist     bool
	Channels      index.Channels
	Index         *index.Index
	DeviceKeyring bool
	Candidates    map[string][]Path
	Winner        map[string]Path
}

// New creates a Machine whose queue holds the single initial step,
// get_blacklist; every later step is enqueued by a predecessor.
func New(cfg *otaconfig.Config, store *keyring.Store, fetcher Fetcher, downloader FileDownloader, scratchDir string, currentBuild int) *Machine {
	m := &Machine{
		cfg:          cfg,
		store:        store,
		fetcher:      fetcher,
		downloader:   downloader,
		scratchDir:   scratchDir,
		baseURL:      cfg.Service.Base,
		notifier:     installer.NoopNotifier{},
		CurrentBuild: currentBuild,
		recovered:    make(map[string]bool),
	}
	m.queue = []step{{"get_blacklist", (*Machine).getBlacklist}}
	return m
}

// WithTelemetry attaches the telemetry bundle steps record through.
func (m *Machine) WithTelemetry(tel *observability.Telemetry) *Machine {
	m.tel = tel
	return m
}

// WithNotifier replaces the installer hand-off used once download_files
// reaches its terminal success state.
func (m *Machine) WithNotifier(n installer.Notifier) *Machine {
	m.notifier = n
	return m
}

// DryRun stops the machine short of downloading artifacts: it still walks
// the full trust chain and computes the winner, but download_files becomes
// a report-only step and no installer hand-off happens.
func (m *Machine) DryRun() *Machine {
	m.dryRun = true
	return m
}

// Run executes steps until the queue is empty (success) or a step returns a
// non-recoverable error.
func (m *Machine) Run(ctx context.Context) error {
	for len(m.queue) > 0 {
		s := m.queue[0]
		m.queue = m.queue[1:]

		log.WithField("step", s.name).Debug("running state machine step")
		stepCtx, span := m.tel.StartStep(ctx, s.name)
		err := s.fn(m, stepCtx)
		m.tel.EndStep(stepCtx, span, s.name, err)
		if err != nil {
			return fmt.Errorf("resolver: step %s: %w", s.name, err)
		}
	}
	return nil
}

func (m *Machine) pushFront(s step) {
	m.queue = append([]step{s}, m.queue...)
}

func (m *Machine) pushBack(s step) {
	m.queue = append(m.queue, s)
}

func (m *Machine) join(path string) string {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return m.baseURL + "/" + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return m.baseURL + "/" + path
	}
	return u.ResolveReference(ref).String()
}

// getBlacklist tries to download and verify the blacklist keyring. There is
// no way to know in advance whether one exists: a NotFound error just means
// there isn't one; a signature failure means the image-master key may have
// rotated, so a master-key recovery is pushed ahead of a retry of this same
// step.
func (m *Machine) getBlacklist(ctx context.Context) error {
	blacklistURL := m.join("gpg/blacklist.tar.xz")
	ascURL := blacklistURL + ".asc"

	bodies, err := m.fetcher.FetchAll(ctx, []string{blacklistURL, ascURL})
	if err != nil {
		if rerrors.Is(err, rerrors.KindNotFound) {
			log.Info("no blacklist found")
			m.pushBack(step{"get_channel", (*Machine).getChannel})
			return nil
		}
		return err
	}

	if err := m.store.InstallBlacklist(bodies[0], bodies[1]); err != nil {
		if rerrors.Is(err, rerrors.KindSignature) && !m.recovered["get_blacklist"] {
			log.Info("no signed blacklist found; trying a new image-master key")
			m.recovered["get_blacklist"] = true
			m.tel.RecordRecovery(ctx, "get_blacklist")
			m.pushFront(step{"get_blacklist", (*Machine).getBlacklist})
			m.pushFront(step{"get_master_key", (*Machine).recoverMasterKey})
			return nil
		}
		return err
	}
	m.Blacklist = true
	m.tel.RecordKeyringInstall(ctx, string(keyring.TypeBlacklist))
	m.pushBack(step{"get_channel", (*Machine).getChannel})
	return nil
}

// getChannel downloads and verifies channels.json against the image-signing
// key. A signature failure triggers an image-signing-key recovery, then
// retries this step.
func (m *Machine) getChannel(ctx context.Context) error {
	channelsURL := m.join("channels.json")
	ascURL := channelsURL + ".asc"

	bodies, err := m.fetcher.FetchAll(ctx, []string{channelsURL, ascURL})
	if err != nil {
		return err
	}

	signing := m.store.Get(keyring.TypeImageSigning)
	if signing == nil {
		return rerrors.Keyring("image-signing keyring not installed")
	}
	if err := signing.VerifyDetachedBytes(bodies[0], bodies[1]); err != nil {
		if m.recovered["get_channel"] {
			return rerrors.Signature("channels.json not properly signed", err)
		}
		log.Info("channels.json not properly signed")
		m.recovered["get_channel"] = true
		m.tel.RecordRecovery(ctx, "get_channel")
		m.pushFront(step{"get_channel", (*Machine).getChannel})
		m.pushFront(step{"get_signing_key", (*Machine).recoverSigningKey})
		return nil
	}

	channels, err := index.ParseChannels(bodies[0])
	if err != nil {
		return err
	}
	m.Channels = channels

	name, ch, err := channels.Resolve(m.cfg.Upgrade.Channel, m.cfg.Keyring.MaxRedirectHops)
	if err != nil {
		log.WithField("channel", m.cfg.Upgrade.Channel).Info("no matching channel")
		return nil
	}
	dev, ok := ch.Devices[m.cfg.Upgrade.Device]
	if !ok {
		log.WithField("channel", name).WithField("device", m.cfg.Upgrade.Device).Info("no matching device")
		return nil
	}

	if dev.Keyring != nil {
		kr := *dev.Keyring
		m.pushBack(step{"get_device_keyring", func(m *Machine, ctx context.Context) error {
			return m.getDeviceKeyring(ctx, kr)
		}})
	}
	idxPath := dev.Index
	m.pushBack(step{"get_index", func(m *Machine, ctx context.Context) error {
		return m.getIndex(ctx, idxPath)
	}})
	return nil
}

func (m *Machine) getDeviceKeyring(ctx context.Context, kr index.Keyring) error {
	tarURL := m.join(kr.Path)
	ascURL := m.join(kr.Signature)
	bodies, err := m.fetcher.FetchAll(ctx, []string{tarURL, ascURL})
	if err != nil {
		return err
	}
	if err := m.store.Install(keyring.TypeDeviceSigning, keyring.TypeImageSigning, bodies[0], bodies[1]); err != nil {
		return err
	}
	m.DeviceKeyring = true
	m.tel.RecordKeyringInstall(ctx, string(keyring.TypeDeviceSigning))
	return nil
}

// getIndex downloads and verifies index.json, signed by either the device
// keyring (if installed) or the image-signing key.
func (m *Machine) getIndex(ctx context.Context, indexPath string) error {
	idxURL := m.join(indexPath)
	ascURL := idxURL + ".asc"
	bodies, err := m.fetcher.FetchAll(ctx, []string{idxURL, ascURL})
	if err != nil {
		return err
	}

	if err := m.verifyEitherSigner(bodies[0], bodies[1]); err != nil {
		return rerrors.Signature("index.json not properly signed", err)
	}

	idx, err := index.ParseIndex(bodies[0])
	if err != nil {
		return err
	}
	m.Index = idx
	m.pushBack(step{"calculate_winner", (*Machine).calculateWinner})
	return nil
}

// verifyEitherSigner checks signed/signature against the device-signing
// keyring (if one was installed) or, failing that, the image-signing
// keyring: a signature is accepted if either pinned key made it.
func (m *Machine) verifyEitherSigner(signed, signature []byte) error {
	if m.DeviceKeyring {
		if ring := m.store.Get(keyring.TypeDeviceSigning); ring != nil {
			if err := ring.VerifyDetachedBytes(signed, signature); err == nil {
				return nil
			}
		}
	}
	ring := m.store.Get(keyring.TypeImageSigning)
	if ring == nil {
		return rerrors.Keyring("image-signing keyring not installed")
	}
	return ring.VerifyDetachedBytes(signed, signature)
}

func (m *Machine) recoverMasterKey(ctx context.Context) error {
	return m.recoverKey(ctx, "gpg/image-master.tar.xz", keyring.TypeImageMaster, keyring.TypeArchiveMaster)
}

func (m *Machine) recoverSigningKey(ctx context.Context) error {
	return m.recoverKey(ctx, "gpg/image-signing.tar.xz", keyring.TypeImageSigning, keyring.TypeImageMaster)
}

// recoverKey re-fetches a keyring one level up the trust hierarchy and
// installs it in place. Any failure here, whether not-found, bad
// signature, or a manifest mismatch, is surfaced as a single fresh
// SignatureError: the original cause of the failed recovery attempt must
// not leak past this boundary.
func (m *Machine) recoverKey(ctx context.Context, path string, typ, verifierType keyring.Type) error {
	tarURL := m.join(path)
	ascURL := tarURL + ".asc"
	bodies, err := m.fetcher.FetchAll(ctx, []string{tarURL, ascURL})
	if err != nil {
		return rerrors.Signature(fmt.Sprintf("no valid %s key found", typ), err)
	}
	if err := m.store.Install(typ, verifierType, bodies[0], bodies[1]); err != nil {
		return rerrors.Signature(fmt.Sprintf("no valid %s key found", typ), err)
	}
	m.tel.RecordKeyringInstall(ctx, string(typ))
	return nil
}

// calculateWinner runs the candidate generator for every content kind named
// in the index's newest bundle, then the scorer, over the device's current
// build. A content kind already at its bundle target is skipped entirely.
func (m *Machine) calculateWinner(ctx context.Context) error {
	m.Candidates = make(map[string][]Path)
	m.Winner = make(map[string]Path)

	if m.Index == nil || len(m.Index.Bundles) == 0 {
		m.pushBack(step{"download_files", (*Machine).downloadFiles})
		return nil
	}

	newest, err := candidates.NewestBundle(m.Index.Bundles)
	if err != nil {
		return err
	}

	weighted := scorer.Weighted{}
	for kind, targetVersion := range newest.Images {
		if m.CurrentBuild == targetVersion {
			continue
		}
		paths, err := candidates.Generate(m.Index.Images, kind, m.CurrentBuild, targetVersion)
		if err != nil {
			return err
		}
		m.Candidates[kind] = paths
		if len(paths) == 0 {
			continue
		}
		winner := weighted.Choose(paths)
		m.Winner[kind] = winner
		m.tel.RecordWinner(ctx, kind, len(winner))
	}

	m.pushBack(step{"download_files", (*Machine).downloadFiles})
	return nil
}

// pendingFile pairs a downloaded artifact's destination with its detached
// signature's destination and declared checksum, so downloadFiles can
// verify each after the all-or-nothing batch completes.
type pendingFile struct {
	dataDest string
	sigDest  string
	checksum string
}

// downloadFiles fetches every file (and its detached signature) across every
// winning path, concurrently and all-or-nothing, then verifies each
// non-signature file's signature and checksum. Any failure removes every
// downloaded file.
func (m *Machine) downloadFiles(ctx context.Context) error {
	if len(m.Winner) == 0 {
		log.Info("no upgrade available")
		return nil
	}
	if m.dryRun {
		for kind, path := range m.Winner {
			log.WithField("content", kind).WithField("images", len(path)).Info("upgrade available (dry run)")
		}
		return nil
	}

	var requests []download.Request
	var pending []pendingFile
	for kind, path := range m.Winner {
		for _, img := range path {
			for _, f := range img.Files {
				dataDest := filepath.Join(m.scratchDir, kind, filepath.Base(f.Path))
				sigDest := dataDest + ".asc"
				requests = append(requests,
					download.Request{URL: m.join(f.Path), Dest: dataDest, Size: f.Size},
					download.Request{URL: m.join(f.Signature), Dest: sigDest},
				)
				pending = append(pending, pendingFile{
					dataDest: dataDest,
					sigDest:  sigDest,
					checksum: f.Checksum,
				})
			}
		}
	}
	if len(requests) == 0 {
		return nil
	}
	if m.downloader == nil {
		return rerrors.NotFound("no downloader configured")
	}

	if err := m.downloader.GetFiles(ctx, requests, nil); err != nil {
		return rerrors.NotFoundf("failed to download update artifacts: %v", err)
	}

	var totalBytes int64
	for _, p := range pending {
		data, err := os.ReadFile(p.dataDest)
		if err != nil {
			m.cleanupDownloads(pending)
			return rerrors.NotFoundf("reading downloaded artifact %s: %v", p.dataDest, err)
		}
		sig, err := os.ReadFile(p.sigDest)
		if err != nil {
			m.cleanupDownloads(pending)
			return rerrors.NotFoundf("reading downloaded signature %s: %v", p.sigDest, err)
		}
		if err := m.verifyEitherSigner(data, sig); err != nil {
			m.cleanupDownloads(pending)
			return rerrors.Signature(fmt.Sprintf("artifact %s failed signature verification", p.dataDest), err)
		}
		if p.checksum != "" {
			if digest.SHA256.FromBytes(data).Encoded() != p.checksum {
				m.cleanupDownloads(pending)
				return rerrors.Signature(fmt.Sprintf("artifact %s checksum mismatch", p.dataDest), nil)
			}
		}
		totalBytes += int64(len(data))
	}
	m.tel.RecordDownload(ctx, len(pending), totalBytes)

	manifest := installer.BuildManifest(m.scratchDir, m.Winner)
	if err := m.notifier.Stage(ctx, manifest); err != nil {
		log.WithError(err).Warn("installer hand-off failed")
	}
	return nil
}

func (m *Machine) cleanupDownloads(pending []pendingFile) {
	for _, p := range pending {
		os.Remove(p.dataDest)
		os.Remove(p.sigDest)
	}
}
