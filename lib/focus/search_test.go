package focus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"flaketransfer/lib/motion"
	"flaketransfer/lib/motion/motiontest"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type queueScorer struct {
	scores  []float64
	missing map[int]bool
	calls   int
}

func (q *queueScorer) Score() (float64, bool) {
	i := q.calls
	q.calls++
	if q.missing[i] {
		return 0, false
	}
	if i >= len(q.scores) {
		return q.scores[len(q.scores)-1], true
	}
	return q.scores[i], true
}

func testConfig() Config {
	return Config{
		Axis:              motion.AxisFocus,
		CoarseStep:        100,
		CoarsePoints:      5,
		FineStep:          50,
		MinScoreDelta:     1,
		MaxFineIterations: 10,
		FlatVariance:      0.5,
		FineDecay:         0.9,
		Rate:              3000,
	}
}

func newTestSearch(cfg Config, act motion.Actuator, scorer Scorer) *Search {
	s := NewSearch(cfg, act, scorer, nil, discardLogger)
	s.settle = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func TestFlatSweepReverses(t *testing.T) {
	rec := motiontest.NewRecorder()
	scorer := &queueScorer{scores: []float64{1, 1, 1, 1, 1, 2, 5, 9, 4, 1, 9.5}}

	res, err := newTestSearch(testConfig(), rec, scorer).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Reversed {
		t.Fatal("flat sweep did not trigger reversal")
	}
	if res.BestIndex != 2 || res.BestScore != 9 {
		t.Fatalf("best = %d (%v), want 2 (9)", res.BestIndex, res.BestScore)
	}

	// reversed sweep ends at -500, relocation walks back two steps to -300,
	// the single rejected fine step continues in the sweep direction
	if res.Height != -350 {
		t.Fatalf("height = %v, want -350", res.Height)
	}
	if got := rec.Position(motion.AxisFocus); got != -350 {
		t.Fatalf("actuator position = %d, want -350", got)
	}

	var reversed []float64
	for _, s := range res.Samples {
		if s.Phase == PhaseReversed {
			reversed = append(reversed, s.Score)
		}
	}
	if len(reversed) != 5 || reversed[2] != 9 {
		t.Fatalf("reversed samples = %v", reversed)
	}
}

func TestPeakedSweepKeepsDirection(t *testing.T) {
	rec := motiontest.NewRecorder()
	scorer := &queueScorer{scores: []float64{1, 3, 8, 4, 2, 8.2}}

	res, err := newTestSearch(testConfig(), rec, scorer).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reversed {
		t.Fatal("peaked sweep must not reverse")
	}
	if res.BestIndex != 2 {
		t.Fatalf("best index = %d, want 2", res.BestIndex)
	}
	if res.Height != 350 {
		t.Fatalf("height = %v, want 350", res.Height)
	}
}

func TestFineSearchAcceptanceAndDecay(t *testing.T) {
	rec := motiontest.NewRecorder()
	peak := 337.0
	scorer := ScorerFunc(func() (float64, bool) {
		h := float64(rec.Position(motion.AxisFocus))
		return 1000 - math.Abs(h-peak), true
	})
	cfg := testConfig()
	cfg.MinScoreDelta = 0.5
	cfg.MaxFineIterations = 40

	res, err := newTestSearch(cfg, rec, scorer).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var fine []Sample
	for _, s := range res.Samples {
		if s.Phase == PhaseFine {
			fine = append(fine, s)
		}
	}
	if len(fine) == 0 {
		t.Fatal("no fine samples")
	}

	best := res.Samples[0].Score
	for _, s := range res.Samples {
		if s.Phase != PhaseFine && s.Score > best {
			best = s.Score
		}
	}
	for i, s := range fine {
		if s.Accepted {
			if s.Score < best {
				t.Fatalf("accepted sample %d lowered best score %v -> %v", i, best, s.Score)
			}
			best = s.Score
		}
		if i+1 < len(fine) {
			next := fine[i+1].Step
			if s.Accepted && next != s.Step {
				t.Fatalf("step changed after accepted sample %d: %v -> %v", i, s.Step, next)
			}
			if !s.Accepted && math.Abs(next-s.Step*0.9) > 1e-9 {
				t.Fatalf("step after rejected sample %d = %v, want %v", i, next, s.Step*0.9)
			}
		}
	}
	if res.BestScore != best {
		t.Fatalf("result best = %v, want %v", res.BestScore, best)
	}
	if res.Height != float64(rec.Position(motion.AxisFocus)) {
		t.Fatalf("height %v disagrees with actuator position %d", res.Height, rec.Position(motion.AxisFocus))
	}
	// the climb never leaves the bracket around the first accepted step
	if math.Abs(res.Height-peak) > 65 {
		t.Fatalf("final height %v too far from peak %v", res.Height, peak)
	}
}

func TestMissingFrameScoresZero(t *testing.T) {
	rec := motiontest.NewRecorder()
	scorer := &queueScorer{
		scores:  []float64{1, 30, 8, 4, 2, 8},
		missing: map[int]bool{1: true},
	}

	res, err := newTestSearch(testConfig(), rec, scorer).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	coarse := 0
	for _, s := range res.Samples {
		if s.Phase == PhaseCoarse {
			coarse++
		}
	}
	if coarse != 5 {
		t.Fatalf("coarse samples = %d, want 5", coarse)
	}
	if res.Samples[1].Score != 0 {
		t.Fatalf("dropped frame scored %v, want 0", res.Samples[1].Score)
	}
	if res.BestIndex != 2 {
		t.Fatalf("best index = %d, want 2", res.BestIndex)
	}
}

func TestCancellationStopsCommands(t *testing.T) {
	rec := motiontest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	moves := 0
	rec.OnMove = func(motiontest.Command) {
		moves++
		if moves == 3 {
			cancel()
		}
	}

	res, err := newTestSearch(testConfig(), rec, &queueScorer{scores: []float64{1}}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("status = %v, want cancelled", res.Status)
	}
	if n := len(rec.Moves("")); n != 3 {
		t.Fatalf("moves = %d, want 3", n)
	}
}

func TestActuatorFailureAborts(t *testing.T) {
	rec := motiontest.NewRecorder()
	rec.Disconnected[motion.AxisFocus] = true

	res, err := newTestSearch(testConfig(), rec, &queueScorer{scores: []float64{1}}).Run(context.Background())
	if !errors.Is(err, motion.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
}
