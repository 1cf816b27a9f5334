package index

import (
	"encoding/json"
	"time"

	rerrors "github.com/otaresolve/resolver/pkg/errors"
)

// timestampLayout matches the index's generated_at format, e.g.
// "Tue Jan 30 16:56:13 UTC 2024". The index is only ever generated in
// UTC, so this is parsed directly as UTC rather than through time.Local.
const timestampLayout = "Mon Jan 2 15:04:05 MST 2006"

func errCycle(name string) error {
	return rerrors.NotFoundf("channel redirect/alias cycle detected at %q", name).WithField("channel", name)
}

func errNoChannel(name string) error {
	return rerrors.NotFoundf("channel %q not found", name).WithField("channel", name)
}

// ParseChannels decodes a channels.json document into Channels. Devices
// are keyed dynamically by device name inside each channel object, so they
// can't live as a struct field with a fixed json tag; each channel is
// decoded via a generic map pass and the non-reserved keys become its
// device map.
func ParseChannels(data []byte) (Channels, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, rerrors.NotFoundf("channels.json malformed: %v", err)
	}

	out := make(Channels, len(raw))
	for name, fields := range raw {
		var ch Channel
		devices := make(map[string]Device)
		for key, val := range fields {
			switch key {
			case "alias":
				_ = json.Unmarshal(val, &ch.Alias)
			case "redirect":
				_ = json.Unmarshal(val, &ch.Redirect)
			case "hidden":
				_ = json.Unmarshal(val, &ch.Hidden)
			default:
				var dev Device
				if err := json.Unmarshal(val, &dev); err == nil {
					devices[key] = dev
				}
			}
		}
		ch.Devices = devices
		out[name] = ch
	}
	return out, nil
}

// indexWire mirrors the on-disk index.json shape: a "global" section
// carrying the generation timestamp, a list of bundles, and a flat image
// list where each entry additionally carries the content-kind it belongs
// to.
type indexWire struct {
	Global struct {
		GeneratedAt string `json:"generated_at"`
	} `json:"global"`
	Bundles []Bundle `json:"bundles"`
	Images  []struct {
		Image
		ContentField string `json:"content"`
	} `json:"images"`
}

// ParseIndex decodes a device's index.json document.
func ParseIndex(data []byte) (*Index, error) {
	var wire indexWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, rerrors.NotFoundf("index.json malformed: %v", err)
	}

	idx := &Index{Bundles: wire.Bundles}
	for _, w := range wire.Images {
		img := w.Image
		img.Content = w.ContentField
		idx.Images = append(idx.Images, img)
	}

	if wire.Global.GeneratedAt != "" {
		ts, err := time.Parse(timestampLayout, wire.Global.GeneratedAt)
		if err != nil {
			return nil, rerrors.NotFoundf("index.json global.generated_at malformed: %v", err)
		}
		idx.GeneratedAt = ts.UTC()
	}

	idx.GroupByContent()
	return idx, nil
}
