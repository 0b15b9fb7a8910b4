package sandbox

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// newHostObject builds the ctx object passed to exports.enable
func newHostObject(vm *goja.Runtime, rt *Runtime, actx *runtime.AddonContext) (*goja.Object, error) {
	host := vm.NewObject()

	caps := make([]interface{}, 0)
	for _, c := range actx.Capabilities() {
		caps = append(caps, c.String())
	}
	manifest := map[string]interface{}{
		"id":          actx.Manifest.ID,
		"name":        actx.Manifest.Name,
		"version":     actx.Manifest.Version,
		"description": actx.Manifest.Description,
		"author":      actx.Manifest.Author,
	}

	sidebar := vm.NewObject()
	if err := sidebar.Set("addItem", func(call goja.FunctionCall) goja.Value {
		def := exportMap(call.Argument(0))
		d, err := actx.Sidebar.AddItem(types.SidebarItem{
			Label: stringField(def, "label"),
			Icon:  stringField(def, "icon"),
			Route: stringField(def, "route"),
			Order: intField(def, "order"),
		})
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return disposableObject(vm, d)
	}); err != nil {
		return nil, err
	}

	router := vm.NewObject()
	if err := router.Set("add", func(call goja.FunctionCall) goja.Value {
		def := exportMap(call.Argument(0))
		d, err := actx.Router.Add(types.Route{
			Path:      stringField(def, "path"),
			Title:     stringField(def, "title"),
			Component: stringField(def, "component"),
		})
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return disposableObject(vm, d)
	}); err != nil {
		return nil, err
	}

	hasCapability := func(call goja.FunctionCall) goja.Value {
		c, err := types.ParseCapability(call.Argument(0).String())
		if err != nil {
			return vm.ToValue(false)
		}
		return vm.ToValue(actx.HasCapability(c))
	}

	onDisable := func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("onDisable expects a function"))
		}
		actx.OnDisable(func() error {
			_, err := rt.Call(context.Background(), fn, goja.Undefined())
			return err
		})
		return goja.Undefined()
	}

	fields := map[string]interface{}{
		"addonId":       actx.AddonID,
		"manifest":      manifest,
		"capabilities":  caps,
		"sidebar":       sidebar,
		"router":        router,
		"hasCapability": hasCapability,
		"onDisable":     onDisable,
	}
	for name, value := range fields {
		if err := host.Set(name, value); err != nil {
			return nil, fmt.Errorf("failed to set ctx.%s: %w", name, err)
		}
	}
	return host, nil
}

func disposableObject(vm *goja.Runtime, d types.Disposable) goja.Value {
	obj := vm.NewObject()
	obj.Set("dispose", func(goja.FunctionCall) goja.Value {
		if err := d.Dispose(); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	return obj
}

func exportMap(v goja.Value) map[string]interface{} {
	m, _ := exportValue(v).(map[string]interface{})
	return m
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]interface{}, key string) int {
	switch n := m[key].(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
