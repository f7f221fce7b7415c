package vm

import "sync"

// Dispatcher executes byte-code. Execute runs the prototype of a's current
// frame (a.Frame().Proto()) until it returns, leaving its result on top of
// the stack, or until it throws.
type Dispatcher interface {
	Execute(a *Actor) error
}

// Loader resolves a module-qualified name to a callable value.
type Loader interface {
	Resolve(module, name string) (Value, error)
}

// NativeLoader is an in-memory Loader populated by the host.
type NativeLoader struct {
	mu      sync.RWMutex
	modules map[string]map[string]Value
}

// NewNativeLoader returns an empty loader.
func NewNativeLoader() *NativeLoader {
	return &NativeLoader{modules: make(map[string]map[string]Value)}
}

// Register binds module.name to a native function.
func (l *NativeLoader) Register(module, name string, f NativeFunc) {
	l.Bind(module, name, Native(f))
}

// Bind binds module.name to any callable value.
func (l *NativeLoader) Bind(module, name string, v Value) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.modules[module]
	if m == nil {
		m = make(map[string]Value)
		l.modules[module] = m
	}
	m[name] = v
}

// Resolve implements Loader.
func (l *NativeLoader) Resolve(module, name string) (Value, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.modules[module]
	if !ok {
		return Nil, newError(CodeUnresolved, "module %q not found", module)
	}
	v, ok := m[name]
	if !ok {
		return Nil, newError(CodeUnresolved, "%s.%s not found", module, name)
	}
	return v, nil
}
