package observability

import "context"

// Checker reports the health of one dependency. Check must honour ctx.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker, e.g. "definitions are readable".
type CheckerFunc struct {
	name  string
	check func(ctx context.Context) error
}

// NewCheckerFunc names fn as a readiness check.
func NewCheckerFunc(name string, fn func(ctx context.Context) error) CheckerFunc {
	return CheckerFunc{name: name, check: fn}
}

// Name returns the component name.
func (c CheckerFunc) Name() string { return c.name }

// Check runs the wrapped function.
func (c CheckerFunc) Check(ctx context.Context) error { return c.check(ctx) }
