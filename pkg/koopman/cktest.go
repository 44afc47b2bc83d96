package koopman

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultMlags       = 10
	defaultObservables = 10
)

type CKOption func(*ckConfig)

type ckConfig struct {
	mlags        int
	multiples    []int
	nObservables int
	observables  *mat.Dense
	statistics   *mat.Dense
	workers      int
}

// WithMlags requests lag multipliers 1..n.
func WithMlags(n int) CKOption {
	return func(c *ckConfig) {
		c.mlags = n
	}
}

// WithLagMultiples supplies an explicit list of lag multipliers. Each must
// be >= 1.
func WithLagMultiples(m ...int) CKOption {
	return func(c *ckConfig) {
		c.multiples = m
	}
}

// WithNObservables selects how many of the base model's top singular
// functions serve as observables and statistics.
func WithNObservables(n int) CKOption {
	return func(c *ckConfig) {
		c.nObservables = n
	}
}

// WithObservables supplies an explicit d x nObs linear observable matrix.
// Without WithStatistics the test runs in pure-expectation mode.
func WithObservables(obs *mat.Dense) CKOption {
	return func(c *ckConfig) {
		c.observables = obs
	}
}

// WithStatistics supplies an explicit d x nStat statistic weighting matrix.
func WithStatistics(stats *mat.Dense) CKOption {
	return func(c *ckConfig) {
		c.statistics = stats
	}
}

// WithWorkers bounds the number of concurrent re-estimations.
func WithWorkers(n int) CKOption {
	return func(c *ckConfig) {
		c.workers = n
	}
}

// CKResult holds the outcome of a Chapman-Kolmogorov test: for each lag
// multiplier, the independently re-estimated statistic and the base model's
// propagated prediction. Index 0 carries the reflexive base case, which
// matches by construction. A nil entry in Estimates/Predictions has its
// failure recorded at the same index of Errs.
type CKResult struct {
	Multiples   []int
	Estimates   []*mat.Dense
	Predictions []*mat.Dense
	Errs        []error
}

// Failed reports how many multipliers could not be evaluated.
func (r *CKResult) Failed() int {
	n := 0
	for _, err := range r.Errs {
		if err != nil {
			n++
		}
	}
	return n
}

// CKTest validates the fitted model against the data: for each lag
// multiplier m it re-fits an independent model at lag m*tau over the source
// and compares the requested observable statistic with the base model
// propagated m steps. Divergence between the two quantifies how far the
// data deviates from Markovian behavior at the base lag.
//
// Re-estimations for different multipliers are independent and run on a
// bounded worker pool; a failure at one multiplier is recorded in the
// result and does not abort the test.
func (e *Estimator) CKTest(ctx context.Context, src Source, opts ...CKOption) (*CKResult, error) {
	cfg := ckConfig{mlags: defaultMlags}
	for _, opt := range opts {
		opt(&cfg)
	}

	base, err := e.Model()
	if err != nil {
		return nil, err
	}
	if err := base.diagonalize(); err != nil {
		return nil, err
	}

	multiples := cfg.multiples
	if len(multiples) == 0 {
		if cfg.mlags < 1 {
			return nil, fmt.Errorf("koopman: mlags must be >= 1, got %d", cfg.mlags)
		}
		multiples = make([]int, cfg.mlags)
		for i := range multiples {
			multiples[i] = i + 1
		}
	}
	for _, m := range multiples {
		if m < 1 {
			return nil, fmt.Errorf("koopman: lag multiplier must be >= 1, got %d", m)
		}
	}

	obs, stats, obsMeanFree, statMeanFree, err := resolveObservables(base, &cfg)
	if err != nil {
		return nil, err
	}

	res := &CKResult{
		Multiples:   multiples,
		Estimates:   make([]*mat.Dense, len(multiples)),
		Predictions: make([]*mat.Dense, len(multiples)),
		Errs:        make([]error, len(multiples)),
	}

	workers := cfg.workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), len(multiples))
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res.Errs[i] = e.ckStep(ctx, src, base, multiples[i], i, res,
					obs, stats, obsMeanFree, statMeanFree)
				if res.Errs[i] != nil {
					e.logger.Warn("ck re-estimation failed",
						zap.Stringer("run_id", e.runID),
						zap.Int("multiplier", multiples[i]),
						zap.Error(res.Errs[i]))
				}
			}
		}()
	}

	for i := range multiples {
		if ctx.Err() != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// ckStep fills result slot i for one lag multiplier. Each step owns an
// independent accumulator and model, so steps are safe to run concurrently.
func (e *Estimator) ckStep(ctx context.Context, src Source, base *Model, m, i int, res *CKResult,
	obs, stats *mat.Dense, obsMeanFree, statMeanFree bool) error {

	pred, err := base.Expectation(obs, stats, m, obsMeanFree, statMeanFree)
	if err != nil {
		return fmt.Errorf("prediction at multiplier %d: %w", m, err)
	}
	res.Predictions[i] = pred

	if m == 1 {
		// Reflexive case: re-estimating at the base lag reproduces the base
		// model, so estimate and prediction coincide by construction.
		res.Estimates[i] = pred
		return nil
	}

	refit, err := e.fitAtLag(ctx, src, m*e.lag)
	if err != nil {
		return fmt.Errorf("re-estimation at multiplier %d: %w", m, err)
	}
	est, err := refit.Expectation(obs, stats, 1, obsMeanFree, statMeanFree)
	if err != nil {
		return fmt.Errorf("estimate at multiplier %d: %w", m, err)
	}
	res.Estimates[i] = est
	return nil
}

// resolveObservables turns the configured observable request into concrete
// matrices. Without explicit matrices the base model's top singular
// functions are used, which are mean-free by construction.
func resolveObservables(base *Model, cfg *ckConfig) (obs, stats *mat.Dense, obsMeanFree, statMeanFree bool, err error) {
	if cfg.observables != nil {
		return cfg.observables, cfg.statistics, false, false, nil
	}
	k := base.dim
	n := cfg.nObservables
	if n <= 0 {
		n = min(defaultObservables, k)
	}
	if n > k {
		n = k
	}
	if n == 0 {
		return nil, nil, false, false, fmt.Errorf("koopman: model retains no components to observe")
	}
	d := base.mom.Dim()
	obs = mat.NewDense(d, n, nil)
	stats = mat.NewDense(d, n, nil)
	obs.Copy(base.rightW.Slice(0, d, 0, n))
	stats.Copy(base.leftW.Slice(0, d, 0, n))
	return obs, stats, true, true, nil
}
