package schema

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// scriptTransform compiles a "js:" rule into a Transform. The expression is
// evaluated with the candidate values bound as the `values` array and must
// produce a string. Each invocation gets a fresh runtime: goja runtimes are
// not goroutine-safe and worker pollers run transforms concurrently.
func scriptTransform(expr string) Transform {
	prog, compileErr := goja.Compile("transform.js", expr, true)

	return func(ctx context.Context, values []string) (string, error) {
		if compileErr != nil {
			return "", fmt.Errorf("compile js transform: %w", compileErr)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		vm := goja.New()
		if err := vm.Set("values", values); err != nil {
			return "", fmt.Errorf("bind values: %w", err)
		}

		done := make(chan struct{})
		defer close(done)
		defer vm.ClearInterrupt()

		go func() {
			select {
			case <-ctx.Done():
				vm.Interrupt(ctx.Err())
			case <-done:
			}
		}()

		val, err := vm.RunProgram(prog)
		if err != nil {
			if interruptedErr, ok := err.(*goja.InterruptedError); ok {
				if cause := interruptedErr.Unwrap(); cause != nil {
					return "", cause
				}
				return "", context.Canceled
			}
			return "", fmt.Errorf("js transform: %w", err)
		}
		if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
			return "", fmt.Errorf("js transform returned no value")
		}
		return val.String(), nil
	}
}
