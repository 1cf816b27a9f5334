package index

import "time"

// Channel is one entry from the channels descriptor: the per-device index
// locations and the channel's alias/redirect metadata.
type Channel struct {
	Devices  map[string]Device `json:"-"`
	Alias    string            `json:"alias,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
	Hidden   bool              `json:"hidden,omitempty"`
}

// Device is the per-device section of a channel entry, naming where that
// device's index.json lives along with its keyring requirements.
type Device struct {
	Index   string   `json:"index"`
	Keyring *Keyring `json:"keyring,omitempty"`
}

// Keyring names a keyring tarball and its detached signature, as referenced
// from a channel or device entry.
type Keyring struct {
	Path      string `json:"path"`
	Signature string `json:"signature"`
}

// Channels is the parsed top-level channels.json document: channel name to
// Channel record.
type Channels map[string]Channel

// Resolve follows a chain of Redirect/Alias fields to the channel that
// actually carries a device index, returning an error if a cycle is
// detected or a name cannot be found.
func (c Channels) Resolve(name string, maxHops int) (string, Channel, error) {
	seen := make(map[string]bool, maxHops)
	current := name
	for i := 0; i < maxHops; i++ {
		if seen[current] {
			return "", Channel{}, errCycle(current)
		}
		seen[current] = true

		ch, ok := c[current]
		if !ok {
			return "", Channel{}, errNoChannel(current)
		}
		if ch.Redirect != "" {
			current = ch.Redirect
			continue
		}
		if ch.Alias != "" {
			current = ch.Alias
			continue
		}
		return current, ch, nil
	}
	return "", Channel{}, errCycle(name)
}

// Index is the parsed per-device index.json document: the set of full and
// delta images available for this device, grouped by content kind
// ("ubuntu", "device", "custom").
type Index struct {
	Bundles     []Bundle           `json:"bundles"`
	Images      []Image            `json:"images"`
	GeneratedAt time.Time          `json:"-"`
	ByContent   map[string][]Image `json:"-"`
}

// GroupByContent populates ByContent from Images, keyed by each image's
// existing Content field; it is a no-op once already populated.
func (idx *Index) GroupByContent() {
	if idx.ByContent != nil {
		return
	}
	idx.ByContent = make(map[string][]Image)
	for _, img := range idx.Images {
		idx.ByContent[img.Content] = append(idx.ByContent[img.Content], img)
	}
}
