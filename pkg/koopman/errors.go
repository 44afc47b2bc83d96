package koopman

import "errors"

var (
	// ErrUnfitted is returned when a decomposition-dependent value is
	// requested before any data has been accumulated.
	ErrUnfitted = errors.New("koopman: no data accumulated")

	// ErrIncompatibleModels is returned when two models fit on different
	// feature widths or lags are compared or scored.
	ErrIncompatibleModels = errors.New("koopman: models are incompatible")

	// ErrEof signals the end of a chunk source.
	ErrEof = errors.New("EOF")
)
