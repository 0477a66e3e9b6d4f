package nsync

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/lang"
)

func read(t *testing.T, src string) lang.Form {
	t.Helper()
	forms, err := lang.ReadAll(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(forms) != 1 {
		t.Fatalf("%q: %d forms", src, len(forms))
	}
	return forms[0]
}

func newSync() *Synchronizer {
	e := env.New()
	e.Intern("app.util", "a", env.ValueVar, 0)
	e.Intern("app.util", "b", env.FnVar, 1)
	return New(env.NewFrame(e, env.DefaultNS))
}

func TestRecognizes(t *testing.T) {
	tests := map[string]bool{
		"(ns app.main)":   true,
		"(in-ns 'foo)":    true,
		"(require 'a.b)":  true,
		"(alias 'x 'a.b)": true,
		"(refer 'a.b)":    true,
		"(def x 1)":       false,
		"(foo/ns x)":      false,
		"ns":              false,
		"(+ 1 2)":         false,
		"((ns app.main))": false,
	}
	for src, want := range tests {
		if got := Recognizes(read(t, src)); got != want {
			t.Errorf("Recognizes(%s) = %v, want %v", src, got, want)
		}
	}
}

func TestEffects(t *testing.T) {
	tests := []struct {
		src  string
		want []ir.Effect
	}{
		{"(in-ns 'app.core)", []ir.Effect{{Kind: ir.EffectSwitchNS, NS: "app.core"}}},
		{"(alias 'u 'app.util)", []ir.Effect{{Kind: ir.EffectAlias, NS: "user", Name: "u", Target: "app.util"}}},
		{"(require 'app.util '[app.io :as io])", []ir.Effect{
			{Kind: ir.EffectRequire, NS: "app.util"},
			{Kind: ir.EffectRequire, NS: "app.io"},
			{Kind: ir.EffectAlias, NS: "user", Name: "io", Target: "app.io"},
		}},
		{"(ns app.main (:require [app.util :as u :refer [a]] app.io) (:import x))", []ir.Effect{
			{Kind: ir.EffectSwitchNS, NS: "app.main"},
			{Kind: ir.EffectRequire, NS: "app.util"},
			{Kind: ir.EffectAlias, NS: "app.main", Name: "u", Target: "app.util"},
			{Kind: ir.EffectRefer, NS: "app.main", Name: "a", Target: "app.util"},
			{Kind: ir.EffectRequire, NS: "app.io"},
		}},
		{"(refer 'app.util)", []ir.Effect{
			{Kind: ir.EffectRefer, NS: "user", Name: "a", Target: "app.util"},
			{Kind: ir.EffectRefer, NS: "user", Name: "b", Target: "app.util"},
		}},
		{"(refer 'app.util :exclude '[a])", []ir.Effect{
			{Kind: ir.EffectRefer, NS: "user", Name: "b", Target: "app.util"},
		}},
		{"(require '[app.util :refer :all])", []ir.Effect{
			{Kind: ir.EffectRequire, NS: "app.util"},
			{Kind: ir.EffectRefer, NS: "user", Name: "a", Target: "app.util"},
			{Kind: ir.EffectRefer, NS: "user", Name: "b", Target: "app.util"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := newSync().Effects(read(t, tt.src))
			if err != nil {
				t.Fatalf("Effects: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("effects mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEffects_Errors(t *testing.T) {
	for _, src := range []string{
		"(in-ns)",
		"(in-ns 'a 'b)",
		"(alias 'x)",
		"(require)",
		"(require '[a.b :as])",
		"(require '[a.b :rename c])",
		"(refer 'nowhere)",
		"(ns)",
		"(ns a (require b))",
		"(def x 1)",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := newSync().Effects(read(t, src))
			e, ok := errors.As(err)
			if !ok || e.Phase != errors.PhaseSync {
				t.Errorf("err = %v, want a sync error", err)
			}
		})
	}
}

func TestReplay(t *testing.T) {
	s := newSync()
	if _, err := s.Replay(read(t, "(ns app.main (:require [app.util :as u]))")); err != nil {
		t.Fatal(err)
	}
	if s.Namespace() != "app.main" {
		t.Errorf("namespace = %s", s.Namespace())
	}
	v, ok := s.Frame().Env().Resolve("app.main", "u/a")
	if !ok || v.Qualified() != "app.util/a" {
		t.Errorf("u/a resolved to %v, %v", v, ok)
	}

	// rebinding an alias to another namespace is refused
	_, err := s.Replay(read(t, "(alias 'u 'app.other)"))
	if e, ok := errors.As(err); !ok || e.Phase != errors.PhaseSync {
		t.Errorf("err = %v", err)
	}
}
