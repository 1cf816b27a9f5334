package index

import "testing"

func TestParseChannels(t *testing.T) {
	data := []byte(`{
		"stable": {
			"devices": {},
			"mako": {"index": "/stable/mako/index.json"}
		},
		"stable/legacy": {
			"alias": "stable"
		},
		"daily-proposed": {
			"redirect": "stable"
		}
	}`)

	channels, err := ParseChannels(data)
	if err != nil {
		t.Fatalf("ParseChannels: %v", err)
	}
	if len(channels) != 3 {
		t.Fatalf("len(channels) = %d, want 3", len(channels))
	}
	if _, ok := channels["stable"].Devices["mako"]; !ok {
		t.Fatal("expected stable/mako device entry")
	}

	name, ch, err := channels.Resolve("stable/legacy", 8)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "stable" {
		t.Errorf("Resolve name = %q, want stable", name)
	}
	if _, ok := ch.Devices["mako"]; !ok {
		t.Error("expected resolved channel to carry device map")
	}
}

func TestResolveCycle(t *testing.T) {
	channels := Channels{
		"a": {Redirect: "b"},
		"b": {Redirect: "a"},
	}
	if _, _, err := channels.Resolve("a", 8); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestResolveMissing(t *testing.T) {
	channels := Channels{}
	if _, _, err := channels.Resolve("ghost", 8); err == nil {
		t.Fatal("expected not-found error for missing channel")
	}
}

func TestParseIndex(t *testing.T) {
	data := []byte(`{
		"global": {"generated_at": "Tue Jan 30 16:56:13 UTC 2024"},
		"bundles": [
			{"version": 101, "images": {"ubuntu": 101}}
		],
		"images": [
			{"content": "ubuntu", "type": "full", "version": 100, "description": "full", "files": [{"path": "/a", "size": 10}]},
			{"content": "ubuntu", "type": "delta", "version": 101, "base": 100, "description": "delta", "files": [{"path": "/b", "size": 5}]}
		]
	}`)

	idx, err := ParseIndex(data)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if idx.GeneratedAt.IsZero() {
		t.Error("expected GeneratedAt to be parsed")
	}
	if len(idx.Bundles) != 1 || idx.Bundles[0].Version != 101 {
		t.Fatalf("Bundles = %+v, want one bundle at version 101", idx.Bundles)
	}
	if idx.Bundles[0].Images["ubuntu"] != 101 {
		t.Errorf("Bundles[0].Images[ubuntu] = %d, want 101", idx.Bundles[0].Images["ubuntu"])
	}
	if len(idx.ByContent["ubuntu"]) != 2 {
		t.Fatalf("len(ByContent[ubuntu]) = %d, want 2", len(idx.ByContent["ubuntu"]))
	}

	full, delta := idx.Images[0], idx.Images[1]
	if full.Equal(delta) {
		t.Error("full and delta at different versions must not be equal")
	}
	if delta.TotalSize() != 5 {
		t.Errorf("TotalSize = %d, want 5", delta.TotalSize())
	}
}

func TestImageEquality(t *testing.T) {
	b100 := 100
	full := Image{Type: "full", Version: 100}
	deltaSameVersion := Image{Type: "delta", Version: 100, Base: &b100}
	if full.Equal(deltaSameVersion) {
		t.Error("a full image must never equal a delta at the same version")
	}

	d1 := Image{Type: "delta", Version: 101, Base: &b100}
	d2 := Image{Type: "delta", Version: 101, Base: &b100}
	if !d1.Equal(d2) {
		t.Error("two deltas with matching version and base must be equal")
	}

	other := 99
	d3 := Image{Type: "delta", Version: 101, Base: &other}
	if d1.Equal(d3) {
		t.Error("deltas with differing base must not be equal")
	}
}
