package main

import (
	"testing"

	"github.com/corvidrt/corvid/internal/config"
)

func TestRunSourceUnhandledErrorExitsNonZero(t *testing.T) {
	code := runSource([]byte(`error("boom")`), "/test.luau", nil, &config.Config{}, nil)
	if code != 1 {
		t.Errorf("exit code = %d, want 1 for an unhandled top-level error", code)
	}
}

func TestRunSourceOrdinaryCompletionExitsZero(t *testing.T) {
	code := runSource([]byte(`local x = 1 + 1`), "/test.luau", nil, &config.Config{}, nil)
	if code != 0 {
		t.Errorf("exit code = %d, want 0 for an ordinary completion", code)
	}
}

func TestRunSourceExplicitExitCodeWins(t *testing.T) {
	code := runSource([]byte(`exit(7)`), "/test.luau", nil, &config.Config{}, nil)
	if code != 7 {
		t.Errorf("exit code = %d, want 7 from the explicit exit() call", code)
	}
}

func TestRunSourceCompileErrorExitsNonZero(t *testing.T) {
	code := runSource([]byte(`this is not valid luau`), "/test.luau", nil, &config.Config{}, nil)
	if code != 1 {
		t.Errorf("exit code = %d, want 1 for a compile error", code)
	}
}
