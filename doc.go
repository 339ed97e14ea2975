// Package esrun embeds a single-threaded JavaScript engine in a
// multi-threaded Go program. One worker goroutine exclusively owns the
// engine; every interaction flows through a FIFO job queue, and results
// cross back as thread-safe value facades. Engine-native objects never
// leave the worker, only reference-counted handles do.
//
// Two engine backends are provided behind build tags: QuickJS (default)
// and V8 (-tags v8).
//
//	rt, err := esrun.NewBuilder().MemoryLimit(16 << 20).Build()
//	if err != nil {
//		...
//	}
//	defer rt.Close()
//
//	v, err := rt.EvalSync(esrun.DefaultRealm, "6 * 72", time.Second)
package esrun
