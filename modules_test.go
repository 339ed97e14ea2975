package esrun

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// mathModule is a native module exporting one function and one constant.
type mathModule struct{}

func (mathModule) HasModule(name string) bool { return name == "host:math" }

func (mathModule) ModuleExportNames(name string) []string {
	return []string{"sum", "base"}
}

func (mathModule) ModuleExports(r *Realm, name string) ([]NativeExport, error) {
	sum := func(r *Realm, this ValueFacade, args []ValueFacade) (ValueFacade, error) {
		total := 0
		for _, a := range args {
			if a.Kind() != KindNumber {
				return Undefined(), fmt.Errorf("sum takes numbers, got %v", a.Kind())
			}
			total += a.Int()
		}
		return NewInt(total), nil
	}
	return []NativeExport{
		{Name: "sum", Func: sum},
		{Name: "base", Value: NewInt(1000)},
	}, nil
}

func TestNativeModuleImport(t *testing.T) {
	rt, err := NewBuilder().NativeModuleLoader(mathModule{}).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	src := `
		import { sum, base } from "host:math";
		export default sum(base, 1080, 7);
	`
	v, err := rt.EvalModuleSync(DefaultRealm, "main.js", src, 10*time.Second)
	if err != nil {
		t.Fatalf("module eval failed: %v", err)
	}
	if v.Int() != 2087 {
		t.Fatalf("expected 2087, got %v", v)
	}
}

func TestNativeModuleFuncError(t *testing.T) {
	rt, err := NewBuilder().NativeModuleLoader(mathModule{}).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	src := `
		import { sum } from "host:math";
		export default sum("not a number");
	`
	_, err = rt.EvalModuleSync(DefaultRealm, "main.js", src, 10*time.Second)
	if err == nil {
		t.Fatal("expected native function error to propagate")
	}
	// The function's own error must come through, not a dispatch failure.
	if !strings.Contains(err.Error(), "sum takes numbers") {
		t.Fatalf("wrong error reached script: %v", err)
	}
}

func TestScriptLoaderImport(t *testing.T) {
	loader := func(base, name string) *ScriptModule {
		switch name {
		case "./greeting.js":
			return &ScriptModule{
				AbsolutePath: "/lib/greeting.js",
				Source:       `import { mark } from "./punct.js"; export const greet = "hello" + mark;`,
			}
		case "./punct.js":
			// Resolved relative to the importing module.
			if base != "/lib/greeting.js" {
				return nil
			}
			return &ScriptModule{
				AbsolutePath: "/lib/punct.js",
				Source:       `export const mark = "!";`,
			}
		}
		return nil
	}

	rt, err := NewBuilder().ModuleScriptLoader(loader).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	src := `
		import { greet } from "./greeting.js";
		export default greet;
	`
	v, err := rt.EvalModuleSync(DefaultRealm, "main.js", src, 10*time.Second)
	if err != nil {
		t.Fatalf("module eval failed: %v", err)
	}
	if v.Str() != "hello!" {
		t.Fatalf("expected hello!, got %v", v)
	}
}

func TestModuleNotFound(t *testing.T) {
	rt := newTestRuntime(t)

	src := `import x from "no-such-module"; export default x;`
	_, err := rt.EvalModuleSync(DefaultRealm, "main.js", src, 10*time.Second)
	if !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestModuleWithoutImports(t *testing.T) {
	rt := newTestRuntime(t)

	v, err := rt.EvalModuleSync(DefaultRealm, "main.js", `export default 6 * 7;`, 10*time.Second)
	if err != nil {
		t.Fatalf("module eval failed: %v", err)
	}
	if v.Int() != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestModuleNoDefaultExport(t *testing.T) {
	rt := newTestRuntime(t)

	v, err := rt.EvalModuleSync(DefaultRealm, "main.js", `export const a = 1;`, 10*time.Second)
	if err != nil {
		t.Fatalf("module eval failed: %v", err)
	}
	if !v.IsUndefined() {
		t.Fatalf("expected undefined completion, got %v", v)
	}
}
