package esrun

import (
	"fmt"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

// ScriptModule is one resolved module: its canonical absolute path (used as
// the base for resolving its own imports) and its source text.
type ScriptModule struct {
	AbsolutePath string
	Source       string
}

// ModuleScriptLoader supplies source for imported modules. base is the
// absolute path of the importing module ("<stdin>" for the entry script) and
// name is the specifier as written in the import statement. A nil return
// means the loader does not know the module.
type ModuleScriptLoader func(base, name string) *ScriptModule

// NativeModuleLoader supplies synthetic modules whose exports are host
// values rather than script source.
//
// HasModule and ModuleExportNames must be pure and callable from any
// goroutine; ModuleExports runs on the worker goroutine with the realm.
type NativeModuleLoader interface {
	HasModule(name string) bool
	ModuleExportNames(name string) []string
	ModuleExports(r *Realm, name string) ([]NativeExport, error)
}

// NativeExport is one export of a native module. Exactly one of Value, Func
// and Class should be set.
type NativeExport struct {
	Name  string
	Value ValueFacade
	Func  NativeFunc
	Class *ProxyBuilder
}

// moduleBuildState collects what the bundler plugins learn while esbuild
// runs. Plugin callbacks fire on esbuild's own goroutines, so everything
// here is mutex-guarded and realm access is deferred until after Build.
type moduleBuildState struct {
	mu      sync.Mutex
	sources map[string]string // loader-namespace path -> source
	natives []string          // native modules referenced by the bundle
}

// bundleModule resolves and bundles an ES module into a single classic
// script. import statements resolve through the native module loader first,
// then the module script loader; anything neither claims fails with
// ErrModuleNotFound. Native modules referenced by the bundle are installed
// into the realm before the bundle text is returned.
func (r *Realm) bundleModule(name, source string) (string, error) {
	state := &moduleBuildState{sources: make(map[string]string)}
	nl := r.rt.cfg.nativeLoader
	sl := r.rt.cfg.scriptLoader

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   source,
			Sourcefile: name,
			ResolveDir: "/",
			Loader:     api.LoaderJS,
		},
		Bundle:     true,
		Write:      false,
		Format:     api.FormatIIFE,
		GlobalName: "__mod_exports",
		Platform:   api.PlatformNeutral,
		LogLevel:   api.LogLevelSilent,
		Plugins:    []api.Plugin{moduleResolverPlugin(state, nl, sl)},
	})

	if len(result.Errors) > 0 {
		msg := result.Errors[0].Text
		if strings.Contains(msg, "Could not resolve") || strings.Contains(msg, "not found") {
			return "", fmt.Errorf("%w: %s", ErrModuleNotFound, msg)
		}
		return "", fmt.Errorf("bundling module %q: %s", name, msg)
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling module %q: no output", name)
	}

	state.mu.Lock()
	natives := append([]string(nil), state.natives...)
	state.mu.Unlock()
	for _, mod := range natives {
		if err := r.installNativeModule(nl, mod); err != nil {
			return "", err
		}
	}

	code := string(result.OutputFiles[0].Contents)
	return code + "\n(typeof __mod_exports !== 'undefined' && __mod_exports) ? __mod_exports.default : undefined;", nil
}

// moduleResolverPlugin routes specifiers to the native loader or the script
// loader. Unclaimed specifiers fall through to esbuild's default resolution,
// which fails for bare names and surfaces as ErrModuleNotFound.
func moduleResolverPlugin(state *moduleBuildState, nl NativeModuleLoader, sl ModuleScriptLoader) api.Plugin {
	return api.Plugin{
		Name: "host-loaders",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if nl != nil && nl.HasModule(args.Path) {
					return api.OnResolveResult{Path: args.Path, Namespace: "native"}, nil
				}
				if sl != nil {
					if mod := sl(args.Importer, args.Path); mod != nil {
						state.mu.Lock()
						state.sources[mod.AbsolutePath] = mod.Source
						state.mu.Unlock()
						return api.OnResolveResult{Path: mod.AbsolutePath, Namespace: "loader"}, nil
					}
				}
				if args.Kind == api.ResolveEntryPoint {
					return api.OnResolveResult{}, nil
				}
				return api.OnResolveResult{}, fmt.Errorf("module %q not found", args.Path)
			})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "native"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				state.mu.Lock()
				state.natives = append(state.natives, args.Path)
				state.mu.Unlock()
				src := nativeShimSource(args.Path, nl.ModuleExportNames(args.Path))
				return api.OnLoadResult{Contents: &src, Loader: api.LoaderJS}, nil
			})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "loader"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				state.mu.Lock()
				src, ok := state.sources[args.Path]
				state.mu.Unlock()
				if !ok {
					return api.OnLoadResult{}, fmt.Errorf("module %q not found", args.Path)
				}
				return api.OnLoadResult{Contents: &src, Loader: api.LoaderJS}, nil
			})
		},
	}
}

// nativeShimSource renders the ESM facade of a native module: re-exports
// from the realm-global registry populated by installNativeModule.
func nativeShimSource(mod string, exportNames []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "const __m = globalThis.__native_mods[%q];\n", mod)
	for _, n := range exportNames {
		fmt.Fprintf(&sb, "export const %s = __m[%q];\n", n, n)
	}
	sb.WriteString("export default __m;\n")
	return sb.String()
}

// installNativeModule materializes a native module's exports under
// globalThis.__native_mods[mod]. Idempotent per realm; runs on the worker
// goroutine.
func (r *Realm) installNativeModule(nl NativeModuleLoader, mod string) error {
	exists, err := r.core.EvalBool(fmt.Sprintf(
		`typeof globalThis.__native_mods === 'object' && !!globalThis.__native_mods[%q]`, mod))
	if err != nil {
		return classifyEngineError(err)
	}
	if exists {
		return nil
	}

	exports, err := nl.ModuleExports(r, mod)
	if err != nil {
		return fmt.Errorf("loading native module %q: %w", mod, err)
	}

	if err := r.core.Eval(fmt.Sprintf(`
		if (typeof globalThis.__native_mods !== 'object') globalThis.__native_mods = {};
		globalThis.__native_mods[%q] = {};`, mod)); err != nil {
		return classifyEngineError(err)
	}

	slot := func(name string) string {
		return fmt.Sprintf("globalThis.__native_mods[%q][%q]", mod, name)
	}
	for _, ex := range exports {
		switch {
		case ex.Func != nil:
			r.nativeFuncs[nativeFuncKey(mod, ex.Name)] = ex.Func
			js := fmt.Sprintf(`%s = function() {
				return globalThis.__vf_in(JSON.parse(__nm_call(%q, %q, globalThis.__vf_args(arguments))));
			};`, slot(ex.Name), mod, ex.Name)
			if err := r.core.Eval(js); err != nil {
				return classifyEngineError(err)
			}
		case ex.Class != nil:
			if _, taken := r.proxies[ex.Class.name]; !taken {
				r.proxies[ex.Class.name] = ex.Class
			}
			if err := r.core.Eval(ex.Class.shimJS(slot(ex.Name))); err != nil {
				return classifyEngineError(err)
			}
		default:
			expr, err := r.encodeExpr(ex.Value)
			if err != nil {
				return err
			}
			if err := r.core.Eval(fmt.Sprintf("%s = %s;", slot(ex.Name), expr)); err != nil {
				return classifyEngineError(err)
			}
		}
	}
	return nil
}
