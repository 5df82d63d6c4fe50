package background

import (
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// NameMax is the maximum stored length of a task name in bytes.
const NameMax = 11

// RawFunc is the plain task callback. It receives the argument given at submission.
type RawFunc func(arg any)

// ReleaseFunc disposes of a task argument. It runs at most once per task.
type ReleaseFunc func(arg any)

// TruncateName cuts name to NameMax bytes. If the cut lands inside a valid
// multi-byte rune, the whole rune is dropped. Invalid bytes are kept as they are,
// so a long name never shrinks to "".
func TruncateName(name string) string {
	if len(name) <= NameMax {
		return name
	}
	if utf8.RuneStart(name[NameMax]) {
		return name[:NameMax]
	}
	for i := NameMax - 1; i >= 0 && i > NameMax-utf8.UTFMax; i-- {
		if !utf8.RuneStart(name[i]) {
			continue
		}
		if r, size := utf8.DecodeRuneInString(name[i:]); r != utf8.RuneError && i+size > NameMax {
			return name[:i]
		}
		break
	}
	return name[:NameMax]
}

type actionKind uint8

const (
	actionNone actionKind = iota
	actionRaw
	actionClosure
)

func (k actionKind) String() string {
	switch k {
	case actionRaw:
		return "raw"
	case actionClosure:
		return "closure"
	default:
		return "none"
	}
}

// resource is the single-use release handle of a task argument.
type resource struct {
	arg     any
	release ReleaseFunc
	used    atomic.Bool
}

// newResource returns nil when there is nothing to release.
func newResource(arg any, release ReleaseFunc) *resource {
	if arg == nil || release == nil {
		return nil
	}
	return &resource{arg: arg, release: release}
}

// take hands out the release call once; later calls get nil.
func (r *resource) take() func() {
	if r == nil || !r.used.CompareAndSwap(false, true) {
		return nil
	}
	return func() { r.release(r.arg) }
}

// entry is one queued task. Store slots hold entries by value.
type entry struct {
	name       string
	kind       actionKind
	raw        RawFunc
	fn         func()
	arg        any
	res        *resource
	enqueuedAt time.Time
}

func (e *entry) run() {
	switch e.kind {
	case actionRaw:
		e.raw(e.arg)
	case actionClosure:
		e.fn()
	}
}
