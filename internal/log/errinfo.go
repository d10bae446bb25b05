package log

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

type hasPC interface {
	PC() uintptr
}

type hasStack interface {
	StackPCs() []uintptr
}

// errorAttrs is the kv enrichment added to every Error record
func errorAttrs(err error, links bool, maxLinks int) []any {
	surface, root := classifyTypes(err)
	kv := []any{
		"err", err,
		"error_type", surface,
		"cause_type", root,
	}
	if chain := errorChain(err); len(chain) > 0 {
		kv = append(kv, "error_chain", chain)
	}
	if links {
		kv = append(kv, "error_links", chainLinks(err, maxLinks))
	}
	return kv
}

// frames belonging to the runtime, slog, or our own logging/error helpers
func internalFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.") ||
		strings.Contains(fn, "/internal/xerrors.")
}

func callerStack() []uintptr {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(1, pcs)
	return pcs[:n]
}

// renderPCs prints func/file:line pairs starting at the first frame outside the logging machinery
func renderPCs(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	started := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") && started {
			break
		}
		if !started && !internalFrame(fr.Function) && fr.Function != "" {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// errorChain lists each distinct message down the Unwrap chain, expanding errors.Join
func errorChain(err error) []string {
	var out []string
	prev := ""
	add := func(s string) {
		if s != prev {
			out = append(out, s)
			prev = s
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	if m, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range m.Unwrap() {
			add(e.Error())
		}
	}
	return out
}

// chainLinks returns one map per link that has a known position, always including the head
func chainLinks(err error, max int) []map[string]any {
	links := make([]map[string]any, 0, 4)
	for depth, e := 0, err; e != nil && (max <= 0 || depth < max); depth, e = depth+1, errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fn, file, line, ok := linkPosition(e)
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if depth == 0 || ok {
			links = append(links, link)
		}
	}
	return links
}

func linkPosition(e error) (fn, file string, line int, ok bool) {
	switch v := e.(type) {
	case hasPC:
		return frameFromPC(v.PC())
	case hasStack:
		return firstExtFrame(v.StackPCs())
	}
	return "", "", 0, false
}

func frameFromPC(pc uintptr) (fn, file string, line int, ok bool) {
	if pc == 0 {
		return "", "", 0, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function, fr.File, fr.Line, true
}

func firstExtFrame(pcs []uintptr) (fn, file string, line int, ok bool) {
	frames := runtime.CallersFrames(pcs)
	for len(pcs) > 0 {
		fr, more := frames.Next()
		if !internalFrame(fr.Function) {
			return fr.Function, fr.File, fr.Line, true
		}
		if !more {
			break
		}
	}
	return "", "", 0, false
}

// classifyTypes reports the first non-wrapper type (surface) and the innermost type (root)
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		root = fmt.Sprintf("%T", e)
		if surface != "" {
			continue
		}
		t := reflect.TypeOf(e)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if strings.Contains(t.PkgPath(), "/internal/xerrors") {
			continue
		}
		if t.PkgPath() == "fmt" && t.Name() == "wrapError" {
			continue
		}
		surface = fmt.Sprintf("%T", e)
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	return surface, root
}
