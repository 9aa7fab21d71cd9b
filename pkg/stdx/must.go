// Package stdx holds small helpers for startup wiring where an error can only
// be a programming or deployment mistake.
package stdx

// Must0 panics when err is not nil.
func Must0(err error) {
	if err != nil {
		panic(err)
	}
}

// Must1 returns v, or panics when err is not nil.
//
//	reg := prometheus.NewRegistry()
//	col := stdx.Must1(metrics.New(reg))
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
