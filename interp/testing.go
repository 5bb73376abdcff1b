package interp

import (
	"context"
	"sync"
)

// A shared runtime for tests, so each test does not pay the interpreter
// cold start.
var (
	testRuntime     *Runtime
	testRuntimeOnce sync.Once
	testRuntimeErr  error
)

// SharedTestRuntime returns a runtime initialized once per process. Options
// are only applied by the first call.
func SharedTestRuntime(lang Language, opts ...Option) (*Runtime, error) {
	testRuntimeOnce.Do(func() {
		testRuntime = New(lang, opts...)
		testRuntimeErr = testRuntime.Initialize(context.Background())
	})
	return testRuntime, testRuntimeErr
}

// CloseSharedTestRuntime finalizes the shared runtime. Call it from
// TestMain.
func CloseSharedTestRuntime() error {
	if testRuntime == nil {
		return nil
	}
	err := testRuntime.Finalize(context.Background())
	testRuntime = nil
	testRuntimeOnce = sync.Once{}
	return err
}
