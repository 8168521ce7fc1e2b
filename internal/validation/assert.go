// Package validation enforces contracts whose violation is a programming error.
package validation

import "fmt"

// AssertNotNil panics if the provided pointer is nil.
// It is intended for use in constructors and configuration phases where
// dependencies are mandatory (Fail Fast principle).
//
// Usage:
//
//	validation.AssertNotNil(db, "database pool")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// Assert panics with a formatted message when cond is false.
// It guards preconditions that upstream components (the definitions linter)
// are responsible for. Reaching it means a caller skipped validation.
//
// Usage:
//
//	validation.Assert(total == bucketing.Total, "weights of %q sum to %d", key, total)
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic("precondition violated: " + fmt.Sprintf(format, args...))
	}
}

// AssertNoError panics when a setup step that cannot fail in a correct program
// returned an error, e.g. registering a validator tag.
//
// Usage:
//
//	validation.AssertNoError(v.RegisterValidation("slug", isSlug), "register slug validator")
func AssertNoError(err error, step string) {
	if err != nil {
		panic(fmt.Sprintf("critical error: %s: %v", step, err))
	}
}

// Note: We use panic here because this is for PROGRAMMER ERROR (misconfiguration),
// not for runtime errors (like "network down").
