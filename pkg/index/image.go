// Package index holds the typed records decoded from the channels
// descriptor and the per-device image index the update service publishes.
package index

// File is one file belonging to an image: its download path, detached
// signature path, checksum, ordering, and size.
type File struct {
	Path      string `json:"path"`
	Signature string `json:"signature"`
	Checksum  string `json:"checksum"`
	Order     int    `json:"order"`
	Size      int64  `json:"size"`
}

// Image is one full or delta image record from the index. A full image is
// uniquely identified by Version; a delta is uniquely identified by
// (Version, Base).
type Image struct {
	Type        string `json:"type"` // "full" or "delta"
	Version     int    `json:"version"`
	Base        *int   `json:"base,omitempty"`
	Content     string `json:"-"` // content-kind this image belongs to, set by the index parser
	Description string `json:"description"`
	Bootme      bool   `json:"bootme,omitempty"`
	Files       []File `json:"files"`
}

// IsDelta reports whether this image is a delta (requires a base).
func (img Image) IsDelta() bool {
	return img.Type == "delta"
}

// Identity returns the values that determine image identity: a full image's
// identity is its version alone; a delta's identity additionally includes
// its base. Two images are Equal iff their identities match.
func (img Image) Identity() (version int, base int, isDelta bool) {
	if img.IsDelta() {
		base := 0
		if img.Base != nil {
			base = *img.Base
		}
		return img.Version, base, true
	}
	return img.Version, 0, false
}

// Equal implements the identity rule from the candidate generator's image
// equality invariant: a full and a delta with the same version are never
// equal, and two deltas are equal only if both version and base match.
func (img Image) Equal(other Image) bool {
	av, ab, ad := img.Identity()
	bv, bb, bd := other.Identity()
	if ad != bd {
		return false
	}
	if ad {
		return av == bv && ab == bb
	}
	return av == bv
}

// TotalSize sums the size of every file belonging to this image.
func (img Image) TotalSize() int64 {
	var total int64
	for _, f := range img.Files {
		total += f.Size
	}
	return total
}

// Bundle names a combination of per-content-kind target image versions at a
// single overall version.
type Bundle struct {
	Version int            `json:"version"`
	Images  map[string]int `json:"images"`
}
