// Package scorer picks the best candidate upgrade path by weighted score.
package scorer

import (
	"sort"

	"github.com/otaresolve/resolver/pkg/candidates"
)

// MiB is one mebibyte, the download-size scoring unit.
const MiB = 1 << 20

// Scorer picks a path among candidates. Lowest score wins.
type Scorer interface {
	Score(paths []candidates.Path) []int
	Choose(paths []candidates.Path) candidates.Path
}

// Weighted scores paths by reboot count, download size over the smallest
// candidate, and distance from the highest reachable build:
//
//	score = 100*reboots + floor((size-min_size)/MiB) + (max_build-build)
//
// min_size is the true minimum size across the candidates, so the
// cheapest path's size term is always zero and every other path pays only
// for its excess.
type Weighted struct{}

// Score implements Scorer.
func (Weighted) Score(paths []candidates.Path) []int {
	if len(paths) == 0 {
		return nil
	}

	type datum struct {
		build   int
		size    int64
		reboots int
	}
	data := make([]datum, len(paths))
	maxBuild := 0
	minSize := int64(-1)
	for i, path := range paths {
		d := datum{build: path[len(path)-1].Version}
		for _, img := range path {
			d.size += img.TotalSize()
			if img.Bootme {
				d.reboots++
			}
		}
		data[i] = d
		if d.build > maxBuild {
			maxBuild = d.build
		}
		if minSize == -1 || d.size < minSize {
			minSize = d.size
		}
	}

	scores := make([]int, len(paths))
	for i, d := range data {
		scores[i] = 100*d.reboots + int((d.size-minSize)/MiB) + (maxBuild - d.build)
	}
	return scores
}

// Choose returns the lowest-scored path, breaking ties by input order (the
// first-seen path among equal scores wins, matching a stable sort over
// (score, original index) pairs).
func (w Weighted) Choose(paths []candidates.Path) candidates.Path {
	if len(paths) == 0 {
		return nil
	}
	scores := w.Score(paths)

	indices := make([]int, len(paths))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return scores[indices[i]] < scores[indices[j]]
	})
	return paths[indices[0]]
}
