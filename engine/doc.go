// Package engine loads artifacts into a long-lived wazero runtime and links
// them against each other and the host.
//
// # Loading
//
// Every artifact is loaded under a module name. The first Load of a name
// links and initialises the artifact; every later Load of that name returns
// the recorded outcome, a Loaded entry point or the original error, without
// touching the runtime again.
//
// # Resolution
//
// Generated code imports external symbols from module "env". Each import is
// resolved in order:
//
//  1. the foreign symbol registry
//  2. exports of previously loaded artifacts, newest first
//  3. the native catalog, which registers the symbol so it stays singular
//
// Registry records are materialised in generations. A generation is one host
// module of functions ("foreign$N") and one generated module of mutable
// globals ("foreign.data$N"). A record belongs to exactly one generation, so
// every importer of a data symbol sees the same global.
//
// Var reads and binds import from "var" and "var.def". They are bound to
// per-artifact host modules whose functions operate on the environment frame
// carried by the calling context (see env.WithFrame).
//
// The loader rewrites import module names to the concrete providers and
// instantiates the result. A data global an artifact exports must not
// already be provided by the registry or another artifact.
//
// # Initialisation
//
// After linking, the entry function runs under an environment frame. A trap
// there fails the load with InitFailed and discards the instance. On success
// the manifest's environment effects are applied and the artifact's
// functions are interned as vars.
package engine
