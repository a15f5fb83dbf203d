package randomfield

import "errors"

// Error kinds surfaced by the field engine. Collective-context failures are
// agreed on across ranks before any operation that would otherwise deadlock.
var (
	// ErrNonPositiveSpectrum reports large negative eigenvalues in the
	// embedded covariance without approximate mode.
	ErrNonPositiveSpectrum = errors.New("negative eigenvalues in covariance matrix")

	// ErrCGStalled reports that conjugate gradients did not meet the
	// energy criterion within the configured iteration budget.
	ErrCGStalled = errors.New("conjugate gradients did not converge")

	// ErrUnsupportedTopology reports a process count that is not a
	// perfect dim-th power, which the block decomposition requires.
	ErrUnsupportedTopology = errors.New("number of processors not square (resp. cubic)")

	// ErrMissingFile reports an absent persistence artifact.
	ErrMissingFile = errors.New("file is missing")

	// ErrListMismatch reports arithmetic between field lists that do not
	// agree on their active sub-fields.
	ErrListMismatch = errors.New("field lists do not match")

	// ErrNonWorldComm reports a generate call on a sub-communicator
	// without explicit opt-in.
	ErrNonWorldComm = errors.New("generation of inconsistent fields prevented, set AllowNonWorldComm if you really want this")
)
