// Package lang reads the small s-expression language used to drive the
// compiler and analyzes it into the canonical tree of package ir.
//
// The language exists to feed units to the compiler; it has integers,
// symbols, keywords, lists, vectors and quote. Special forms:
//
//	(def name init)            value var
//	(defn name [params] body)  function var
//	(defglobal name 0)         externally linked data symbol owned by the unit
//	(let [a 1 b 2] body)
//	(if cond then else)
//	(do forms...)
//	(set! native/sym value)    write a foreign data symbol
//
// Symbols in the native namespace name foreign symbols: native/counter reads
// a data symbol and (native/print x) calls a foreign function. The
// environment forms ns, in-ns, require, alias and refer are handled by
// package nsync before analysis.
package lang
