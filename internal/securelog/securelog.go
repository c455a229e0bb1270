package securelog

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
)

var (
	kindsMu sync.RWMutex
	kinds   []error
)

// RegisterKinds marks sentinel errors whose text is safe to log. Matching
// sentinels are reported as kinds=... next to the type chain.
func RegisterKinds(errs ...error) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	for _, err := range errs {
		if err != nil && !containsKind(kinds, err) {
			kinds = append(kinds, err)
		}
	}
}

// Error logs an error without including user-provided data.
// It records the caller location, error type chain and any registered kinds.
func Error(context string, err error) {
	emit("error", context, err)
}

// Warn is Error for failures the caller recovered from.
func Warn(context string, err error) {
	emit("warn", context, err)
}

func emit(level, context string, err error) {
	if err == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s", level, callerLocation(3))
	if context != "" {
		fmt.Fprintf(&b, " context=%s", context)
	}
	fmt.Fprintf(&b, " types=%s", strings.Join(errorTypes(err), "->"))
	if matched := matchedKinds(err); len(matched) > 0 {
		fmt.Fprintf(&b, " kinds=%s", strings.Join(matched, ","))
	}
	log.Print(b.String())
}

func callerLocation(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s:%d %s", file, line, name)
}

// errorTypes walks the wrap tree depth first, following both single and
// joined wrapping.
func errorTypes(err error) []string {
	types := []string{}
	seen := map[string]struct{}{}
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		name := fmt.Sprintf("%T", err)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			types = append(types, name)
		}
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return types
}

func matchedKinds(err error) []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	var out []string
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			out = append(out, strings.ReplaceAll(kind.Error(), " ", "_"))
		}
	}
	return out
}

func containsKind(list []error, err error) bool {
	for _, k := range list {
		if k == err {
			return true
		}
	}
	return false
}
