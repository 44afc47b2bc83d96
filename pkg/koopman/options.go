package koopman

import "go.uber.org/zap"

type Option func(*Estimator)

// WithScaling selects the post-hoc rescaling of the singular functions.
func WithScaling(s Scaling) Option {
	return func(e *Estimator) {
		e.scaling = s
	}
}

// WithDimension caps the number of retained singular components.
func WithDimension(dim int) Option {
	return func(e *Estimator) {
		e.reqDim = dim
	}
}

// WithVarCutoff truncates the retained components to the smallest set whose
// cumulative kinetic variance reaches the given fraction in (0, 1].
func WithVarCutoff(cutoff float64) Option {
	return func(e *Estimator) {
		e.varCutoff = cutoff
	}
}

// WithEpsilon overrides the relative eigenvalue cutoff used during
// whitening rank truncation.
func WithEpsilon(epsilon float64) Option {
	return func(e *Estimator) {
		e.epsilon = epsilon
	}
}

// WithLogger attaches a structured logger; the default discards all output.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Estimator) {
		e.logger = logger
	}
}
