// Package ir defines compilation units: the canonical expression tree an
// analyzer hands to the compiler, the target a unit is compiled for, and the
// content hash that keys the object cache.
//
// The tree is a closed set of node types. Every reference to something
// outside the unit is explicit: Invoke and VarRef name a qualified var,
// ForeignCall, ForeignGet and ForeignSet name an externally linked symbol.
// Locals are referenced by name; hashing replaces those names with binding
// depths so renaming a parameter or let binding never changes the hash.
package ir
