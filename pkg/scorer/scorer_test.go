package scorer

import (
	"testing"

	"github.com/otaresolve/resolver/pkg/candidates"
	"github.com/otaresolve/resolver/pkg/index"
)

func img(version int, size int64, bootme bool) index.Image {
	return index.Image{
		Version: version,
		Bootme:  bootme,
		Files:   []index.File{{Size: size}},
	}
}

func TestWeightedScoreExample(t *testing.T) {
	// Mirrors the documented example: path A costs two extra reboots but is
	// smallest and reaches the highest build (score 200); path B costs one
	// extra reboot and is 100MiB bigger but also reaches the highest build
	// (score 100+100 = 200); path C costs no extra reboots, is 200MiB bigger,
	// and falls 104 short of the highest build (score 200+104 = 304).
	pathA := candidates.Path{img(200, 0, true), img(200, 0, true)} // reboots=2, size=0, build=200
	pathB := candidates.Path{img(200, 100*MiB, true)}              // reboots=1, size=100MiB, build=200
	pathC := candidates.Path{img(96, 200*MiB, false)}               // reboots=0, size=200MiB, build=96

	scores := Weighted{}.Score([]candidates.Path{pathA, pathB, pathC})
	if len(scores) != 3 {
		t.Fatalf("len(scores) = %d, want 3", len(scores))
	}
	// minSize = 0, maxBuild = 200
	wantA := 100*2 + 0 + (200 - 200)
	wantB := 100*1 + 100 + (200 - 200)
	wantC := 100*0 + 200 + (200 - 96)
	if scores[0] != wantA {
		t.Errorf("scores[A] = %d, want %d", scores[0], wantA)
	}
	if scores[1] != wantB {
		t.Errorf("scores[B] = %d, want %d", scores[1], wantB)
	}
	if scores[2] != wantC {
		t.Errorf("scores[C] = %d, want %d", scores[2], wantC)
	}
}

func TestWeightedChoosePicksLowestScore(t *testing.T) {
	cheap := candidates.Path{img(100, 0, false)}
	expensive := candidates.Path{img(100, 500*MiB, true)}

	chosen := Weighted{}.Choose([]candidates.Path{expensive, cheap})
	if len(chosen) != 1 || chosen[0].Version != 100 || chosen[0].TotalSize() != 0 {
		t.Errorf("expected the cheap path to win, got %+v", chosen)
	}
}

func TestWeightedChooseStableTieBreak(t *testing.T) {
	a := candidates.Path{img(100, 0, false)}
	b := candidates.Path{img(100, 0, false)}

	chosen := Weighted{}.Choose([]candidates.Path{a, b})
	if &chosen[0] != &a[0] {
		t.Error("expected the first of two equally-scored paths to win")
	}
}

func TestWeightedChooseMiddleWinner(t *testing.T) {
	// Scores work out to 300, 200, and 401: the middle path must win.
	threeReboots := candidates.Path{img(100, 0, true), img(100, 0, true), img(100, 0, true)}
	twoReboots := candidates.Path{img(100, 0, true), img(100, 0, true)}
	fourRebootsPlusMiB := candidates.Path{
		img(100, MiB, true), img(100, 0, true), img(100, 0, true), img(100, 0, true),
	}

	paths := []candidates.Path{threeReboots, twoReboots, fourRebootsPlusMiB}
	scores := Weighted{}.Score(paths)
	want := []int{300, 200, 401}
	for i := range want {
		if scores[i] != want[i] {
			t.Errorf("scores[%d] = %d, want %d", i, scores[i], want[i])
		}
	}

	chosen := Weighted{}.Choose(paths)
	if len(chosen) != 2 {
		t.Errorf("expected the two-reboot path to win, got %d images", len(chosen))
	}
}

func TestWeightedChooseEmpty(t *testing.T) {
	if got := (Weighted{}).Choose(nil); got != nil {
		t.Errorf("Choose(nil) = %v, want nil", got)
	}
}

func TestWeightedMinSizeIsTrueMinimum(t *testing.T) {
	// Regression check for the min_size initialization: with a real
	// non-zero minimum among candidates, every score's size term must be
	// relative to that minimum, not the raw byte count.
	small := candidates.Path{img(100, 10*MiB, false)}
	large := candidates.Path{img(100, 30*MiB, false)}

	scores := Weighted{}.Score([]candidates.Path{small, large})
	if scores[0] != 0 {
		t.Errorf("smallest candidate's size term = %d, want 0", scores[0])
	}
	if scores[1] != 20 {
		t.Errorf("largest candidate's size term = %d, want 20", scores[1])
	}
}
