// Package candidates computes the candidate upgrade paths for a content
// kind: every chain of images walking backward from the target bundle
// version to the device's current version.
package candidates

import (
	"sort"

	rerrors "github.com/otaresolve/resolver/pkg/errors"
	"github.com/otaresolve/resolver/pkg/index"
)

// Path is one candidate upgrade chain, ordered oldest image first.
type Path []index.Image

// Generate scans images for every chain that starts at targetVersion and
// walks backward through delta bases until it reaches currentVersion or
// hits a full image, which always terminates a walk. Multiple images can
// share the target version (e.g. alternate delta chains into the same
// destination), so Generate can return more than one path; each is
// independent and unordered relative to the others.
//
// It returns an error only when a delta's base image cannot be found and
// the walk has not yet reached currentVersion, meaning the index is malformed.
func Generate(images []index.Image, content string, currentVersion, targetVersion int) ([]Path, error) {
	var startingPoints []index.Image
	for _, img := range images {
		if img.Content == content && img.Version == targetVersion {
			startingPoints = append(startingPoints, img)
		}
	}

	var paths []Path
	for _, start := range startingPoints {
		path, err := walk(images, content, currentVersion, start)
		if err != nil {
			return nil, err
		}
		if len(path) > 0 {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func walk(images []index.Image, content string, currentVersion int, start index.Image) (Path, error) {
	var reversed Path
	here := start
	for {
		if here.Version == currentVersion {
			break
		}
		reversed = append(reversed, here)
		if !here.IsDelta() {
			// A full image always terminates the walk: nothing further
			// back is needed once we can jump straight to current.
			break
		}
		if here.Base == nil {
			return nil, rerrors.NotFoundf("delta image %d has no base", here.Version).WithField("version", here.Version)
		}
		base := *here.Base
		if currentVersion == base {
			break
		}
		next, ok := findByVersion(images, content, base)
		if !ok {
			return nil, rerrors.NotFoundf("base image not found: %d", base).WithField("base", base)
		}
		here = next
	}
	path := make(Path, len(reversed))
	for i, img := range reversed {
		path[len(reversed)-1-i] = img
	}
	return path, nil
}

func findByVersion(images []index.Image, content string, version int) (index.Image, bool) {
	for _, img := range images {
		if img.Content == content && img.Version == version {
			return img, true
		}
	}
	return index.Image{}, false
}

// NewestBundle returns the highest-versioned bundle in bundles, returning
// an error if bundles is empty or if more than one bundle shares the
// highest version; either is an invariant violation in index data.
func NewestBundle(bundles []index.Bundle) (index.Bundle, error) {
	if len(bundles) == 0 {
		return index.Bundle{}, rerrors.NotFound("no bundles available")
	}
	sorted := make([]index.Bundle, len(bundles))
	copy(sorted, bundles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	newest := sorted[len(sorted)-1]
	if len(sorted) > 1 && sorted[len(sorted)-2].Version == newest.Version {
		return index.Bundle{}, rerrors.NotFoundf("duplicate bundle version: %d", newest.Version)
	}
	return newest, nil
}
