package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/jitlink/config"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func setCacheDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvCacheDir, dir)
	t.Setenv(config.EnvLogLevel, "error")
	return dir
}

func TestEval(t *testing.T) {
	setCacheDir(t)
	out, stderr, code := runCLI(t, "", "eval", "(+ 1 2)", "(defn sq [x] (* x x))", "(sq 5)")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	lines := strings.Fields(out)
	if len(lines) != 3 || lines[0] != "3" || lines[2] != "25" {
		t.Errorf("output = %q", out)
	}
}

func TestEval_Error(t *testing.T) {
	setCacheDir(t)
	_, stderr, code := runCLI(t, "", "eval", "(+ 1")
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr, "syntax") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRun(t *testing.T) {
	setCacheDir(t)
	path := filepath.Join(t.TempDir(), "main.clj")
	src := "(ns app) (defn twice [n] (* 2 n)) (native/print (twice 21))"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	out, stderr, code := runCLI(t, "", "run", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if out != "42\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCompile(t *testing.T) {
	setCacheDir(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "unit.clj")
	if err := os.WriteFile(src, []byte("(fact 4)"), 0o644); err != nil {
		t.Fatal(err)
	}
	artifact := filepath.Join(dir, "unit.wasm")
	out, stderr, code := runCLI(t, "", "compile", src, "-o", artifact)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(out, "__jitlink_init_") || !strings.Contains(out, "cached=false") {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(artifact)
	if err != nil || !bytes.HasPrefix(data, []byte("\x00asm")) {
		t.Errorf("artifact not written: %v", err)
	}

	out, _, _ = runCLI(t, "", "compile", src)
	if !strings.Contains(out, "cached=true") {
		t.Errorf("second compile should hit the cache: %q", out)
	}
}

func TestRepl_Lines(t *testing.T) {
	setCacheDir(t)
	out, stderr, code := runCLI(t, "(def x 4)\n\n(* x x)\n(nope)\n(in-ns 'other)\n", "repl")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, want := range []string{"user=> 16", "user=> error:", "other=> 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestCache(t *testing.T) {
	setCacheDir(t)
	if _, stderr, code := runCLI(t, "", "eval", "(inc 41)"); code != 0 {
		t.Fatalf("eval: %s", stderr)
	}
	out, stderr, code := runCLI(t, "", "cache", "stats")
	if code != 0 {
		t.Fatalf("stats: %s", stderr)
	}
	if !strings.Contains(out, "local-") || !strings.Contains(out, "total") {
		t.Errorf("stats = %q", out)
	}

	if _, stderr, code := runCLI(t, "", "cache", "clear"); code != 0 {
		t.Fatalf("clear: %s", stderr)
	}
	out, _, _ = runCLI(t, "", "cache", "stats")
	if strings.Contains(out, "local-") {
		t.Errorf("stats after clear = %q", out)
	}
}

func TestRemote_Unreachable(t *testing.T) {
	setCacheDir(t)
	_, stderr, code := runCLI(t, "", "remote", "127.0.0.1:1", "(+ 1 2)")
	if code != 1 || !strings.Contains(stderr, "disconnected") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}
