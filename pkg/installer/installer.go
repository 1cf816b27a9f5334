// Package installer hands a verified update manifest off to the separate
// process that actually flashes images. The resolver only ever depends on
// the Notifier interface; flashing itself, rollback, and reboot
// sequencing all belong to that process.
package installer

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/otaresolve/resolver/pkg/candidates"
	"github.com/otaresolve/resolver/pkg/logger"
	"github.com/otaresolve/resolver/pkg/otaconfig"
)

var log = logger.New("installer")

// stageMethod is the unary RPC the installer service exposes, named in the
// style of the otlp-grpc exporters this module already depends on.
const stageMethod = "/otaresolve.installer.v1.InstallerService/StageUpdate"

// Artifact names one verified, on-disk file the installer will need to
// apply an image from a winning upgrade path.
type Artifact struct {
	ContentKind string `json:"content_kind"`
	ImageType   string `json:"image_type"`
	Version     int    `json:"version"`
	Path        string `json:"path"`
	Checksum    string `json:"checksum"`
	Order       int    `json:"order"`
	Bootme      bool   `json:"bootme"`
}

// Manifest is everything the installer needs once a run terminates
// successfully: the scratch directory the artifacts live in and the
// ordered artifact list per content kind.
type Manifest struct {
	ScratchDir string                `json:"scratch_dir"`
	Artifacts  map[string][]Artifact `json:"artifacts"`
}

// stageResponse is the installer's acknowledgement of a staged manifest.
type stageResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Notifier hands a verified Manifest to the installer process. The
// resolver state machine only ever calls Stage once, after download_files
// reaches its terminal success state.
type Notifier interface {
	Stage(ctx context.Context, manifest Manifest) error
	Close() error
}

// NoopNotifier is the default Notifier: it does nothing, so the resolver
// stays fully testable without a running installer service.
type NoopNotifier struct{}

// Stage implements Notifier.
func (NoopNotifier) Stage(ctx context.Context, manifest Manifest) error { return nil }

// Close implements Notifier.
func (NoopNotifier) Close() error { return nil }

// GRPCNotifier calls the installer's StageUpdate RPC over a plaintext gRPC
// channel, using the same insecure-credentials/timeout conventions the
// OTLP gRPC exporters already use elsewhere in this module.
type GRPCNotifier struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// DialGRPC opens a connection to the installer's gRPC address from
// configuration. A blank address disables the installer hand-off and
// returns a NoopNotifier instead.
func DialGRPC(cfg otaconfig.InstallerConfig) (Notifier, error) {
	if cfg.Address == "" {
		return NoopNotifier{}, nil
	}
	conn, err := grpc.Dial(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, err
	}
	return &GRPCNotifier{conn: conn, timeout: 30 * time.Second}, nil
}

// Stage implements Notifier by invoking the installer's StageUpdate RPC.
func (n *GRPCNotifier) Stage(ctx context.Context, manifest Manifest) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var resp stageResponse
	if err := n.conn.Invoke(ctx, stageMethod, &manifest, &resp); err != nil {
		return err
	}
	if !resp.Accepted {
		log.WithField("reason", resp.Reason).Warn("installer rejected staged manifest")
	}
	return nil
}

// Close implements Notifier.
func (n *GRPCNotifier) Close() error {
	return n.conn.Close()
}

// BuildManifest flattens every winning path into the artifact list the
// installer needs, preserving each file's declared order within its image.
func BuildManifest(scratchDir string, winner map[string]candidates.Path) Manifest {
	m := Manifest{ScratchDir: scratchDir, Artifacts: make(map[string][]Artifact)}
	for kind, imgs := range winner {
		for _, img := range imgs {
			for _, f := range img.Files {
				m.Artifacts[kind] = append(m.Artifacts[kind], Artifact{
					ContentKind: kind,
					ImageType:   img.Type,
					Version:     img.Version,
					Path:        f.Path,
					Checksum:    f.Checksum,
					Order:       f.Order,
					Bootme:      img.Bootme,
				})
			}
		}
	}
	return m
}
