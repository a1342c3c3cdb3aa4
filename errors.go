package kontrol

import "errors"

// Error kinds returned by the engine. They are always wrapped with context,
// test for them with errors.Is.
var (
	// ErrInputShape reports mismatched lengths or malformed axes.
	ErrInputShape = errors.New("kontrol: input shape mismatch")
	// ErrOptimizerFailure reports a search that failed or hit a non-finite cost.
	ErrOptimizerFailure = errors.New("kontrol: optimizer failure")
	// ErrInstability reports a pole with positive real part.
	ErrInstability = errors.New("kontrol: unstable model")
	// ErrOrderReduction reports a target order unreachable within tolerance.
	ErrOrderReduction = errors.New("kontrol: order reduction failed")
	// ErrExportRange reports a root or section the export grammar cannot represent.
	ErrExportRange = errors.New("kontrol: export range exceeded")
	// ErrNonFinite reports a model that evaluated to NaN or Inf.
	ErrNonFinite = errors.New("kontrol: non-finite model value")
	// ErrInvalidModel reports roots that do not form conjugate pairs.
	ErrInvalidModel = errors.New("kontrol: invalid model")
)
