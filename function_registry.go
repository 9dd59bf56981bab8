package tracker

import (
	"sort"
	"strings"
	"sync"
)

// Function is callable by name from validator expressions.
type Function func(args ...any) (any, error)

// FunctionRegistry maps case-insensitive names to Functions. The zero value
// is ready to use.
type FunctionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]namedFunction
}

type namedFunction struct {
	name string
	fn   Function
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{}
}

// Register adds fn under name. Names differing only in case collide.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	switch {
	case name == "":
		return errorf(ErrInvalidConfig, "function name must not be empty")
	case fn == nil:
		return errorf(ErrInvalidConfig, "function %q is nil", name)
	}
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.funcs[key]; ok {
		return errorf(ErrInvalidConfig, "function %q collides with %q", name, prev.name)
	}
	if r.funcs == nil {
		r.funcs = make(map[string]namedFunction)
	}
	r.funcs[key] = namedFunction{name: name, fn: fn}
	return nil
}

// Clone copies the registry so later registrations on either side stay local.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &FunctionRegistry{funcs: make(map[string]namedFunction, len(r.funcs))}
	for key, f := range r.funcs {
		clone.funcs[key] = f
	}
	return clone
}

// Call runs the function registered under name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, errorf(ErrFunctionNotFound, "%q (no registry)", name)
	}
	r.mu.RLock()
	f, ok := r.funcs[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, errorf(ErrFunctionNotFound, "%q", name)
	}
	return f.fn(args...)
}

// Names lists the names as registered, sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.funcs))
	for _, f := range r.funcs {
		names = append(names, f.name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

var expressionFunctions FunctionRegistry

// RegisterExpressionFunction makes fn callable from expression validators
// rebuilt by ValidatorFromJSON, and therefore from validators carried in
// imported metadata. Validators built before the call do not see fn.
func RegisterExpressionFunction(name string, fn Function) error {
	return expressionFunctions.Register(name, fn)
}
