// Package projection maintains named, derived, typed views over the event
// store by deterministic folding. Projection state is disposable: it can be
// discarded and rebuilt from the log at any time with identical results,
// provided the fold function is pure.
package projection
