package refs

import "errors"

// errCASMismatch signals, internally, that a compare-and-swap mutation's
// expected old value did not match the ref's current state. It never
// escapes this package: per the error taxonomy, a CAS miss is reported
// to callers as a boolean false return, not an error.
var errCASMismatch = errors.New("refs: compare-and-swap mismatch")
