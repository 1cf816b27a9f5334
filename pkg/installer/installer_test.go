package installer

import (
	"context"
	"testing"

	"github.com/otaresolve/resolver/pkg/candidates"
	"github.com/otaresolve/resolver/pkg/index"
	"github.com/otaresolve/resolver/pkg/otaconfig"
)

func TestBuildManifestFlattensWinner(t *testing.T) {
	base := 100
	winner := map[string]candidates.Path{
		"ubuntu": {
			index.Image{
				Type: "delta", Version: 101, Base: &base, Bootme: true,
				Files: []index.File{
					{Path: "/pool/a.tar.xz", Checksum: "aa", Order: 1},
					{Path: "/pool/b.tar.xz", Checksum: "bb", Order: 0},
				},
			},
		},
		"device": {
			index.Image{
				Type: "full", Version: 101,
				Files: []index.File{{Path: "/pool/dev.tar.xz", Checksum: "cc", Order: 0}},
			},
		},
	}

	m := BuildManifest("/tmp/scratch", winner)
	if m.ScratchDir != "/tmp/scratch" {
		t.Errorf("ScratchDir = %q", m.ScratchDir)
	}
	if len(m.Artifacts["ubuntu"]) != 2 {
		t.Fatalf("ubuntu artifacts = %d, want 2", len(m.Artifacts["ubuntu"]))
	}
	first := m.Artifacts["ubuntu"][0]
	if first.ImageType != "delta" || first.Version != 101 || !first.Bootme {
		t.Errorf("artifact = %+v", first)
	}
	if len(m.Artifacts["device"]) != 1 || m.Artifacts["device"][0].ContentKind != "device" {
		t.Errorf("device artifacts = %+v", m.Artifacts["device"])
	}
}

func TestNoopNotifier(t *testing.T) {
	var n Notifier = NoopNotifier{}
	if err := n.Stage(context.Background(), Manifest{}); err != nil {
		t.Errorf("Stage: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestDialGRPCBlankAddressIsNoop(t *testing.T) {
	n, err := DialGRPC(otaconfig.InstallerConfig{Address: ""})
	if err != nil {
		t.Fatalf("DialGRPC: %v", err)
	}
	if _, ok := n.(NoopNotifier); !ok {
		t.Errorf("notifier = %T, want NoopNotifier", n)
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	in := Manifest{ScratchDir: "/x", Artifacts: map[string][]Artifact{"ubuntu": {{Path: "/pool/a"}}}}
	data, err := c.Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Manifest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.ScratchDir != "/x" || len(out.Artifacts["ubuntu"]) != 1 {
		t.Errorf("round trip = %+v", out)
	}
	if c.Name() != "json" {
		t.Errorf("Name() = %q", c.Name())
	}
}
