package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "unresolved",
			err:      Unresolved("user$1", "rt_context", "no provider"),
			contains: []string{"[load]", "unresolved_symbol", `"rt_context"`, "user$1", "no provider"},
		},
		{
			name:     "duplicate lists origins",
			err:      Duplicate("b", "counter", "library core", "module b"),
			contains: []string{"duplicate_definition", "origins: library core, module b"},
		},
		{
			name:     "minimal",
			err:      &Error{Phase: PhaseCache, Kind: KindCorrupt},
			contains: []string{"[cache]", "corrupt"},
		},
		{
			name:     "with cause",
			err:      Backend(errors.New("invalid opcode"), "validate %s", "artifact"),
			contains: []string{"[compile]", "backend_failure", "validate artifact", "caused by: invalid opcode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InitFailed("m", "__init", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Syntax("unbalanced"))
	if !errors.Is(err, &Error{Phase: PhaseCompile, Kind: KindSyntax}) {
		t.Error("expected phase and kind match through wrapping")
	}
	if errors.Is(err, &Error{Phase: PhaseCompile, Kind: KindSemantic}) {
		t.Error("different kind must not match")
	}
	if !IsCompile(err, KindSyntax) {
		t.Error("IsCompile should match")
	}
	if IsLoad(err, KindSyntax) {
		t.Error("IsLoad must not match a compile error")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseTransport, KindTimeout).
		Symbol("compile").
		Module("session-1").
		Origins("a").
		Detail("after %dms", 50).
		Build()

	if err.Detail != "after 50ms" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if !IsTransport(err, KindTimeout) {
		t.Error("expected transport timeout")
	}
	if e, ok := As(fmt.Errorf("x: %w", err)); !ok || e != err {
		t.Error("As should unwrap to the builder error")
	}
}
