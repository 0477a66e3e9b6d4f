// Package jitlink compiles small units of code to WebAssembly artifacts on
// demand and links them into one running process.
//
// # Architecture Overview
//
//	jitlink/         System: wires the components below from a config.Config
//	├── lang/        Reader and analyzer for the source language
//	├── ir/          Analyzed units, content hashes and target specs
//	├── compiler/    Code generation, preamble, backends and the compile pipeline
//	├── cache/       Content-addressed object cache on disk
//	├── artifact/    Artifact bytes plus the embedded CBOR manifest
//	├── registry/    Foreign symbol registry with stable addresses
//	├── native/      Built-in native libraries for dynamic lookup
//	├── engine/      Loader: resolves imports and runs entry points on wazero
//	├── env/         Namespaces, vars and per-call frames
//	├── nsync/       Replays environment forms on the compiling side
//	├── session/     One compile-side namespace session
//	├── remote/      Compilation service, client and remote executor
//	├── config/      TOML and environment configuration
//	├── errors/      Structured errors with phase and kind
//	└── wasm/        Core wasm encoder, inspector and import rewriter
//
// # Quick Start
//
//	sys, err := jitlink.New(ctx, config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sys.Close(ctx)
//
//	ev, err := sys.Evaluator(ir.Host())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	v, err := ev.Eval(ctx, "(+ 1 2)") // 3
//
// # Resolution Order
//
// A loaded artifact's imports are satisfied, in order, by the foreign
// symbol registry, by definitions exported from previously loaded
// artifacts, and finally by dynamic lookup in the native catalog. A symbol
// found by dynamic lookup is registered so later loads link it directly.
package jitlink
