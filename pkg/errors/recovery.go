package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError is a panic recovered inside a fit or a plot, kept with the
// goroutine stack at the point of recovery.
type PanicError struct {
	PanicValue interface{}
	StackTrace string
	// Operation は回復した場所 ("RandomForestRegressor.Fit", "analysis.plot fatalCount" など)
	Operation string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// String includes the stack.
func (e *PanicError) String() string {
	return fmt.Sprintf("%s\n%s", e.Error(), e.StackTrace)
}

// NewPanicError records v with the current stack.
func NewPanicError(operation string, v interface{}) *PanicError {
	return &PanicError{
		PanicValue: v,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover turns a panic into *err. Use it deferred with a named error result:
//
//	func (f *RandomForestRegressor) FitContext(...) (err error) {
//	    defer errors.Recover(&err, "RandomForestRegressor.Fit")
//
// An error already set is kept as the cause and the panic becomes its
// prefix, so errors.Is still finds the original.
func Recover(err *error, operation string) {
	r := recover()
	if r == nil {
		return
	}
	if *err != nil {
		*err = Wrapf(*err, "panic in %s: %v", operation, r)
		return
	}
	*err = WithStack(NewPanicError(operation, r))
}

// SafeExecute runs fn and reports a panic as a *PanicError.
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}
