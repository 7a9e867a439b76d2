package require

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/corvidrt/corvid/internal/corvidlib"
)

// Resolved is the pair of paths the load protocol needs: an absolute key
// used as cache identity, and a display form (relative to the working
// directory) used as the chunk name in diagnostics.
type Resolved struct {
	Abs     string
	Display string
}

func isInitModule(sourcePath string) bool {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if ext != ".lua" && ext != ".luau" {
		return false
	}
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return strings.EqualFold(stem, "init")
}

// effectiveDir implements spec.md §4.5's parent/grandparent rule: an
// init.luau module treats its own folder as its module, so requiring
// relative to it resolves against the grandparent, unless the caller
// forces the ordinary-parent rule via @self/....
func effectiveDir(sourcePath string, forceOrdinaryParent bool) string {
	if !forceOrdinaryParent && isInitModule(sourcePath) {
		return filepath.Dir(filepath.Dir(sourcePath))
	}
	return filepath.Dir(sourcePath)
}

func absFromCWD(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func displayFromCWD(abs string) string {
	wd, err := os.Getwd()
	if err != nil {
		return abs
	}
	rel, err := filepath.Rel(wd, abs)
	if err != nil {
		return abs
	}
	return rel
}

func joinAndClean(dir, request string) (Resolved, error) {
	cleaned := filepath.Clean(filepath.Join(dir, request))
	abs, err := absFromCWD(cleaned)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Abs: abs, Display: displayFromCWD(abs)}, nil
}

// ResolvePath implements spec.md §4.5's path resolution. A non-empty
// builtin return value means request named a built-in library (the
// @<name> form with no trailing path); otherwise resolved is populated.
func ResolvePath(sourcePath, request string, aliases map[string]string) (resolved Resolved, builtin string, err error) {
	if strings.HasPrefix(request, "@") {
		rest := request[1:]
		name, sub, hasSlash := strings.Cut(rest, "/")
		if name == "" {
			return Resolved{}, "", &corvidlib.ResolutionError{
				Source: sourcePath, Request: request, Reason: "empty alias name",
			}
		}
		if !hasSlash || sub == "" {
			return Resolved{}, name, nil
		}
		if name == "self" {
			r, err := joinAndClean(effectiveDir(sourcePath, true), sub)
			return r, "", err
		}
		target, ok := aliases[name]
		if !ok {
			return Resolved{}, "", &corvidlib.ResolutionError{
				Source: sourcePath, Request: request, Reason: "unknown alias @" + name,
			}
		}
		r, err := joinAndClean(target, sub)
		return r, "", err
	}

	r, err := joinAndClean(effectiveDir(sourcePath, false), request)
	return r, "", err
}
