package eval

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loopkit/loopkit/schema"
)

const defaultConcurrency = 4

// CaseResult is the outcome of one case: the trajectory, the score,
// or the error that prevented either.
type CaseResult struct {
	Case       Case          `json:"case"`
	Trajectory *Trajectory   `json:"trajectory,omitempty"`
	Score      *Score        `json:"score,omitempty"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
}

// Report aggregates a full evaluation run.
type Report struct {
	TargetName string        `json:"target_name"`
	JudgeName  string        `json:"judge_name"`
	Results    []CaseResult  `json:"results"`
	MeanScore  float64       `json:"mean_score"`
	Scored     int           `json:"scored"`
	Failed     int           `json:"failed"`
	Usage      schema.Usage  `json:"usage"`
	Duration   time.Duration `json:"duration"`
}

// Runner executes cases against a target and scores each trajectory.
type Runner struct {
	target      Target
	judge       Judge
	concurrency int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency bounds parallel case execution (default 4).
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRunner creates an evaluation runner.
func NewRunner(target Target, judge Judge, opts ...RunnerOption) (*Runner, error) {
	if target == nil {
		return nil, schema.NewConfigError("eval", "target is required")
	}
	if judge == nil {
		return nil, schema.NewConfigError("eval", "judge is required")
	}
	r := &Runner{target: target, judge: judge, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes every case and returns the aggregated report. A case
// that errors is recorded as failed; it does not abort the run.
func (r *Runner) Run(ctx context.Context, cases []Case) (*Report, error) {
	start := time.Now()
	results := make([]CaseResult, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range cases {
		i, c := i, c
		g.Go(func() error {
			results[i] = r.runCase(gctx, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		TargetName: r.target.Name(),
		JudgeName:  r.judge.Name(),
		Results:    results,
		Duration:   time.Since(start),
	}
	var sum float64
	for _, res := range results {
		if res.Err != nil || res.Score == nil {
			report.Failed++
			continue
		}
		report.Scored++
		sum += res.Score.Value
		if res.Trajectory != nil {
			report.Usage.Add(res.Trajectory.Usage)
		}
	}
	if report.Scored > 0 {
		report.MeanScore = sum / float64(report.Scored)
	}
	return report, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) CaseResult {
	start := time.Now()
	res := CaseResult{Case: c}

	trajectory, err := r.target.Run(ctx, c.Task)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	res.Trajectory = trajectory

	score, err := r.judge.Judge(ctx, &c, trajectory)
	if err != nil {
		res.Err = err
	} else {
		res.Score = score
	}
	res.Duration = time.Since(start)
	return res
}
