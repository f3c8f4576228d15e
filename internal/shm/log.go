package shm

// internalWarnf reports non-fatal platform problems. It is silent until a
// logger is installed with SetWarnLogger.
var internalWarnf = func(format string, a ...interface{}) {}

// SetWarnLogger installs the function used to report non-fatal platform problems.
func SetWarnLogger(f func(format string, a ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	internalWarnf = f
}
