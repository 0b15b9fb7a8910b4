package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Runtime wraps a goja VM with security controls. A Runtime belongs to a
// single add-on instance; every entry into the VM is serialized.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	logger *zap.Logger
	mu     sync.Mutex

	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates a new sandboxed runtime
func New(config Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{
		vm:     goja.New(),
		config: config,
		logger: logger,
	}
	if config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}
	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// VM exposes the underlying VM for building host objects. Callers must only
// touch it from inside Do.
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// Do runs fn with exclusive access to the VM, interrupting it when the
// timeout elapses or ctx is cancelled
func (r *Runtime) Do(ctx context.Context, fn func(vm *goja.Runtime) (goja.Value, error)) (goja.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := r.config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-timer.C:
			r.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			r.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	val, err := fn(r.vm)
	close(done)
	<-exited
	r.vm.ClearInterrupt()
	return val, err
}

// Run compiles and executes a script
func (r *Runtime) Run(ctx context.Context, program *goja.Program) (goja.Value, error) {
	return r.Do(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		return vm.RunProgram(program)
	})
}

// Call invokes a JS function
func (r *Runtime) Call(ctx context.Context, fn goja.Callable, this goja.Value, args ...interface{}) (goja.Value, error) {
	return r.Do(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		values := make([]goja.Value, len(args))
		for i, a := range args {
			if v, ok := a.(goja.Value); ok {
				values[i] = v
			} else {
				values[i] = vm.ToValue(a)
			}
		}
		return fn(this, values...)
	})
}

// Console returns a copy of the captured console output
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry(nil), r.console...)
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports", "eval"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove global %s: %w", name, err)
		}
	}

	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	// timers never fire; add-ons run only inside host-driven calls
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := r.vm.Set(name, noop); err != nil {
			return err
		}
	}
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !r.config.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		r.consoleMu.Unlock()

		switch level {
		case "error":
			r.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			r.logger.Warn(msg, zap.String("source", "console"))
		case "debug":
			r.logger.Debug(msg, zap.String("source", "console"))
		default:
			r.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
