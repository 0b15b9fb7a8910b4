package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/paths"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// ErrNoEnable is returned when a script exports no enable function
var ErrNoEnable = errors.New("script does not export an enable function")

// ScriptLoader loads add-on entry scripts from their install directory
// into isolated goja runtimes
type ScriptLoader struct {
	config Config
	logger *zap.Logger
}

// NewScriptLoader creates a script loader
func NewScriptLoader(config Config, logger *zap.Logger) *ScriptLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScriptLoader{config: config, logger: logger}
}

// LoadModule reads and compiles the add-on's entry script
func (l *ScriptLoader) LoadModule(_ context.Context, addon *types.InstalledAddon) (runtime.Module, error) {
	if addon.Dir == "" || addon.Manifest == nil {
		return nil, fmt.Errorf("%w: %s has no install directory", runtime.ErrModuleNotFound, addon.ID())
	}
	if !strings.HasSuffix(addon.Manifest.Main, ".js") && !strings.HasSuffix(addon.Manifest.Main, ".cjs") &&
		!strings.HasSuffix(addon.Manifest.Main, ".mjs") {
		return nil, fmt.Errorf("%w: %s is not a script", runtime.ErrModuleNotFound, addon.Manifest.Main)
	}

	entry := filepath.Join(addon.Dir, filepath.FromSlash(addon.Manifest.Main))
	if !paths.Within(addon.Dir, entry) {
		return nil, fmt.Errorf("entry point %q escapes install directory", addon.Manifest.Main)
	}
	info, err := os.Stat(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to stat entry point: %w", err)
	}
	if l.config.MaxScriptSize > 0 && info.Size() > l.config.MaxScriptSize {
		return nil, fmt.Errorf("entry point is %d bytes, limit is %d", info.Size(), l.config.MaxScriptSize)
	}
	src, err := os.ReadFile(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry point: %w", err)
	}

	program, err := goja.Compile(addon.Manifest.Main, string(src), false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", addon.Manifest.Main, err)
	}
	return &scriptModule{program: program, config: l.config, logger: l.logger}, nil
}

// scriptModule instantiates a fresh runtime each time it is initialized
type scriptModule struct {
	program *goja.Program
	config  Config
	logger  *zap.Logger
}

// Initialize runs the script and calls exports.enable(ctx). enable may
// return a teardown function or an object with a disable method; a
// top-level exports.disable is used when it returns nothing.
func (m *scriptModule) Initialize(actx *runtime.AddonContext) (runtime.TeardownFunc, error) {
	rt, err := New(m.config, actx.Logger)
	if err != nil {
		return nil, err
	}
	ctx := actx.Context()

	var exports *goja.Object
	_, err = rt.Do(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		exports = vm.NewObject()
		module := vm.NewObject()
		if err := module.Set("exports", exports); err != nil {
			return nil, err
		}
		if err := vm.Set("module", module); err != nil {
			return nil, err
		}
		if err := vm.Set("exports", exports); err != nil {
			return nil, err
		}
		if _, err := vm.RunProgram(m.program); err != nil {
			return nil, err
		}
		// module.exports may have been reassigned
		if obj := module.Get("exports"); obj != nil && !goja.IsUndefined(obj) && !goja.IsNull(obj) {
			exports = obj.ToObject(vm)
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}

	enable, ok := goja.AssertFunction(exports.Get("enable"))
	if !ok {
		return nil, ErrNoEnable
	}

	var hostCtx goja.Value
	if _, err := rt.Do(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		obj, err := newHostObject(vm, rt, actx)
		hostCtx = obj
		return nil, err
	}); err != nil {
		return nil, err
	}

	result, err := rt.Call(ctx, enable, goja.Undefined(), hostCtx)
	if err != nil {
		return nil, fmt.Errorf("enable failed: %w", err)
	}

	teardown := teardownFrom(rt, result)
	if teardown == nil {
		teardown = teardownFrom(rt, exports.Get("disable"))
	}
	return teardown, nil
}

// teardownFrom accepts a function or an object with a disable method
func teardownFrom(rt *Runtime, v goja.Value) runtime.TeardownFunc {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		var obj *goja.Object
		rt.Do(context.Background(), func(vm *goja.Runtime) (goja.Value, error) {
			obj = v.ToObject(vm)
			return nil, nil
		})
		if obj == nil {
			return nil
		}
		if fn, ok = goja.AssertFunction(obj.Get("disable")); !ok {
			return nil
		}
	}
	return func() error {
		_, err := rt.Call(context.Background(), fn, goja.Undefined())
		return err
	}
}
