package dieselrhi

import (
	"strings"

	"github.com/pkg/errors"
)

type Extensions interface {
	HasRequired() (bool, []string)
	HasWanted() (bool, []string)
	GetExtensions() []string
}

// ExtensionSet negotiates instance extensions, device extensions or layers: what the caller
// requires, what it would like, and what the platform actually offers.
type ExtensionSet struct {
	kind     string
	wanted   []string
	required []string
	actual   []string
}

var _ Extensions = (*ExtensionSet)(nil)

// NewExtensionSet builds a set. kind names it in log messages ("instance extension", "layer").
func NewExtensionSet(kind string, wanted, required, available []string) *ExtensionSet {
	return &ExtensionSet{
		kind:     kind,
		wanted:   wanted,
		required: required,
		actual:   available,
	}
}

func (e *ExtensionSet) has(name string) bool {
	for _, act := range e.actual {
		if act == name {
			return true
		}
	}
	return false
}

func (e *ExtensionSet) missing(names []string) []string {
	var out []string
	for _, n := range names {
		if !e.has(n) {
			out = append(out, n)
		}
	}
	return out
}

func (e *ExtensionSet) HasRequired() (bool, []string) {
	m := e.missing(e.required)
	return len(m) == 0, m
}

func (e *ExtensionSet) HasWanted() (bool, []string) {
	m := e.missing(e.wanted)
	return len(m) == 0, m
}

// GetExtensions returns every required name followed by the wanted names the platform offers,
// without duplicates.
func (e *ExtensionSet) GetExtensions() []string {
	seen := make(map[string]bool)
	var implement []string
	for _, req := range e.required {
		if !seen[req] {
			seen[req] = true
			implement = append(implement, req)
		}
	}
	for _, want := range e.wanted {
		if !seen[want] && e.has(want) {
			seen[want] = true
			implement = append(implement, want)
		}
	}
	return implement
}

// Check fails when a required name is unavailable and logs wanted names that are missing.
func (e *ExtensionSet) Check() error {
	if ok, missing := e.HasRequired(); !ok {
		return errors.Wrapf(ErrMissingExtension, "%s: %s", e.kind, strings.Join(missing, ", "))
	}
	if ok, missing := e.HasWanted(); !ok {
		Logger().Warn("optional "+e.kind+"s unavailable", "missing", missing)
	}
	return nil
}
