package focus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"flaketransfer/lib/motion"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Config holds the autofocus search parameters.
type Config struct {
	Axis              motion.Axis
	CoarseStep        int
	CoarsePoints      int
	FineStep          float64
	MinScoreDelta     float64
	MaxFineIterations int
	FlatVariance      float64 // coarse sweeps at or below this variance are reversed
	FineDecay         float64
	Rate              int
	CoarseSettle      time.Duration
	FineSettle        time.Duration
}

// DefaultConfig returns the settings used on the microscope focus drive.
func DefaultConfig() Config {
	return Config{
		Axis:              motion.AxisFocus,
		CoarseStep:        2000,
		CoarsePoints:      40,
		FineStep:          500,
		MinScoreDelta:     1,
		MaxFineIterations: 50,
		FlatVariance:      1000,
		FineDecay:         0.9,
		Rate:              3000,
		CoarseSettle:      500 * time.Millisecond,
		FineSettle:        200 * time.Millisecond,
	}
}

// Scorer returns the sharpness of the current frame, or false when no frame
// is available.
type Scorer interface {
	Score() (float64, bool)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func() (float64, bool)

func (f ScorerFunc) Score() (float64, bool) { return f() }

// Phase labels a sample.
type Phase string

const (
	PhaseCoarse   Phase = "coarse"
	PhaseReversed Phase = "reversed"
	PhaseFine     Phase = "fine"
)

// Sample is one scored position.
type Sample struct {
	Phase    Phase   `json:"phase"`
	Index    int     `json:"index"`
	Score    float64 `json:"score"`
	Height   float64 `json:"height"`
	Step     float64 `json:"step,omitempty"`
	Accepted bool    `json:"accepted,omitempty"`
}

// Status is how a search ended.
type Status string

const (
	StatusFocused   Status = "focused"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Result is the outcome of a search. Height is the signed displacement
// from the search origin in actuator units.
type Result struct {
	Status    Status   `json:"status"`
	Height    float64  `json:"height"`
	BestIndex int      `json:"best_index"`
	BestScore float64  `json:"best_score"`
	Reversed  bool     `json:"reversed"`
	Variance  float64  `json:"variance"`
	Samples   []Sample `json:"samples"`
}

// Search runs coarse-to-fine autofocus on one axis.
type Search struct {
	config Config
	act    motion.Actuator
	scorer Scorer
	logger *slog.Logger
	notify func(string)

	// settle is replaced in tests.
	settle func(ctx context.Context, d time.Duration) error
}

// NewSearch creates a search. notify may be nil.
func NewSearch(config Config, act motion.Actuator, scorer Scorer, notify func(string), logger *slog.Logger) *Search {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Search{
		config: config,
		act:    act,
		scorer: scorer,
		logger: logger.With("component", "autofocus"),
		notify: notify,
		settle: motion.Settle,
	}
}

// run holds the mutable state of one search.
type run struct {
	s      *Search
	ctx    context.Context
	height float64
	res    Result
}

// Run executes the search. Cancellation is reported through the result
// status; actuator failures end the search with an error.
func (s *Search) Run(ctx context.Context) (Result, error) {
	r := &run{s: s, ctx: ctx}
	err := r.execute()

	r.res.Height = r.height
	switch {
	case err == nil:
		r.res.Status = StatusFocused
		s.notify(fmt.Sprintf("Autofocus complete at %.0f", r.height))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		r.res.Status = StatusCancelled
		s.notify("Autofocus stopped")
		err = nil
	default:
		r.res.Status = StatusFailed
	}
	s.logger.Info("autofocus finished", "status", r.res.Status, "height", r.height, "best_index", r.res.BestIndex)
	return r.res, err
}

func (r *run) execute() error {
	cfg := r.s.config
	if cfg.CoarsePoints <= 0 || cfg.CoarseStep <= 0 {
		return fmt.Errorf("autofocus: invalid coarse sweep %d x %d", cfg.CoarsePoints, cfg.CoarseStep)
	}

	r.s.notify("Autofocus: coarse sweep")
	dir := motion.Forward
	scores, err := r.sweep(dir, PhaseCoarse)
	if err != nil {
		return err
	}

	r.res.Variance = stat.PopVariance(scores, nil)
	r.s.logger.Info("coarse sweep done", "variance", r.res.Variance)

	if r.res.Variance <= cfg.FlatVariance {
		r.s.notify("Autofocus: flat sweep, reversing direction")
		r.res.Reversed = true

		// return to the origin, then sweep the other way
		for i := 0; i < cfg.CoarsePoints; i++ {
			if err := r.move(dir.Opposite(), cfg.CoarseStep); err != nil {
				return err
			}
		}
		dir = dir.Opposite()
		if scores, err = r.sweep(dir, PhaseReversed); err != nil {
			return err
		}
	}

	best := floats.MaxIdx(scores)
	r.res.BestIndex = best
	r.res.BestScore = scores[best]

	// sample i was taken after i+1 steps; walk back to it
	r.s.notify(fmt.Sprintf("Autofocus: relocating to coarse best %d", best))
	for i := 0; i < cfg.CoarsePoints-best-1; i++ {
		if err := r.move(dir.Opposite(), cfg.CoarseStep); err != nil {
			return err
		}
	}
	if err := r.wait(cfg.CoarseSettle); err != nil {
		return err
	}

	r.s.notify("Autofocus: fine search")
	return r.fine(dir, scores[best])
}

// sweep takes CoarsePoints steps in dir and scores each position.
func (r *run) sweep(dir motion.Direction, phase Phase) ([]float64, error) {
	cfg := r.s.config
	scores := make([]float64, 0, cfg.CoarsePoints)
	for i := 0; i < cfg.CoarsePoints; i++ {
		if err := r.move(dir, cfg.CoarseStep); err != nil {
			return nil, err
		}
		if err := r.wait(cfg.CoarseSettle); err != nil {
			return nil, err
		}
		score := r.score()
		scores = append(scores, score)
		r.res.Samples = append(r.res.Samples, Sample{Phase: phase, Index: i, Score: score, Height: r.height})
	}
	return scores, nil
}

// fine hill-climbs from the coarse best. Accepted steps keep the direction;
// rejected ones reverse it and shrink the step.
func (r *run) fine(dir motion.Direction, baseline float64) error {
	cfg := r.s.config
	step := cfg.FineStep

	for i := 0; i < cfg.MaxFineIterations; i++ {
		magnitude := int(math.Round(step))
		if magnitude <= 0 {
			break
		}
		if err := r.move(dir, magnitude); err != nil {
			return err
		}
		if err := r.wait(cfg.FineSettle); err != nil {
			return err
		}

		score := r.score()
		delta := score - baseline
		sample := Sample{Phase: PhaseFine, Index: i, Score: score, Height: r.height, Step: step}

		if delta > cfg.MinScoreDelta {
			baseline = score
			sample.Accepted = true
			r.res.BestScore = score
			r.res.Samples = append(r.res.Samples, sample)
			continue
		}
		r.res.Samples = append(r.res.Samples, sample)

		dir = dir.Opposite()
		step *= cfg.FineDecay
		if math.Abs(delta) < cfg.MinScoreDelta {
			r.s.logger.Info("fine search converged", "iteration", i, "score", baseline)
			break
		}
	}
	return nil
}

func (r *run) move(dir motion.Direction, magnitude int) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	cfg := r.s.config
	if err := r.s.act.Move(r.ctx, cfg.Axis, dir, magnitude, cfg.Rate); err != nil {
		return fmt.Errorf("autofocus move: %w", err)
	}
	r.height += float64(int(dir) * magnitude)
	return nil
}

func (r *run) wait(d time.Duration) error {
	return r.s.settle(r.ctx, d)
}

func (r *run) score() float64 {
	score, ok := r.s.scorer.Score()
	if !ok {
		r.s.logger.Warn("no frame for focus sample, scoring zero")
		return 0
	}
	return score
}
