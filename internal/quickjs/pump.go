//go:build !v8

package quickjs

import (
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
)

type tlsHandle = *libc.TLS

// initDirectAccess caches the VM's unexported cRuntime and tls values so
// the realm can call into the libquickjs C API directly. The Go wrapper
// never calls JS_ExecutePendingJob, JS_RunGC or JS_SetMaxStackSize, so
// Promise callbacks, forced collections and stack limits all require this
// path. If extraction fails (the wrapper changed its struct layout), the
// realm still works but RunMicrotasks becomes a no-op and stack limits are
// not enforced.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func (r *qjsRealm) initDirectAccess() {
	defer func() {
		if p := recover(); p != nil {
			r.rt = 0
			r.tls = nil
		}
	}()

	vmVal := reflect.ValueOf(r.vm).Elem()

	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return
	}

	rtPtr := unsafe.Pointer(rtField.Pointer())
	rtVal := reflect.NewAt(rtField.Type().Elem(), rtPtr).Elem()

	cRuntimeField := rtVal.FieldByName("cRuntime")
	if !cRuntimeField.IsValid() {
		return
	}

	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return
	}

	r.rt = uintptr(cRuntimeField.Uint())
	r.tls = (*libc.TLS)(unsafe.Pointer(tlsField.Pointer()))
}

// executePendingJobs runs all pending jobs (Promise reactions, etc.) in the
// realm's runtime and returns the number executed.
func (r *qjsRealm) executePendingJobs() int {
	if r.rt == 0 || r.tls == nil {
		return 0
	}

	count := 0
	for {
		ret := lib.XJS_ExecutePendingJob(r.tls, r.rt, 0)
		if ret <= 0 {
			break
		}
		count++
	}
	return count
}

// runGC forces a full collection pass on the realm's runtime.
func (r *qjsRealm) runGC() {
	if r.rt == 0 || r.tls == nil {
		return
	}
	lib.XJS_RunGC(r.tls, r.rt)
}

// setMaxStackSize caps the native call-stack depth for script execution.
func (r *qjsRealm) setMaxStackSize(bytes uint64) {
	if r.rt == 0 || r.tls == nil {
		return
	}
	lib.XJS_SetMaxStackSize(r.tls, r.rt, lib.Tsize_t(bytes))
}
