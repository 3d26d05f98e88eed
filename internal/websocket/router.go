package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// ErrMethodNotFound is returned by Call for names the target does not export.
var ErrMethodNotFound = errors.New("method not found")

// handler is one exported method with its signature resolved up front
type handler struct {
	fn       reflect.Value
	withCtx  bool
	params   []reflect.Type
	results  int
	lastErr  bool
	variadic bool
}

// Router maps RPC method names onto the exported methods of a target value
type Router struct {
	handlers map[string]*handler
}

// NewRouter registers every exported method of target. Variadic methods are
// skipped.
func NewRouter(target interface{}) *Router {
	r := &Router{handlers: make(map[string]*handler)}

	v := reflect.ValueOf(target)
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		h := newHandler(v.Method(i))
		if h.variadic {
			continue
		}
		r.handlers[m.Name] = h
	}
	return r
}

func newHandler(fn reflect.Value) *handler {
	ft := fn.Type()
	h := &handler{fn: fn, results: ft.NumOut(), variadic: ft.IsVariadic()}

	in := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		h.withCtx = true
		in = 1
	}
	for ; in < ft.NumIn(); in++ {
		h.params = append(h.params, ft.In(in))
	}
	if h.results > 0 && ft.Out(h.results-1).Implements(errorType) {
		h.lastErr = true
	}
	return h
}

// Methods returns the number of registered methods
func (r *Router) Methods() int {
	return len(r.handlers)
}

// Names lists the registered method names in order
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes method with JSON decoded params. A leading context.Context
// parameter is filled with ctx and not counted.
func (r *Router) Call(ctx context.Context, method string, params []interface{}) (interface{}, error) {
	h, ok := r.handlers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	if len(params) != len(h.params) {
		return nil, fmt.Errorf("method %s expects %d params, got %d", method, len(h.params), len(params))
	}

	args := make([]reflect.Value, 0, len(h.params)+1)
	if h.withCtx {
		args = append(args, reflect.ValueOf(&ctx).Elem())
	}
	for i, p := range params {
		v, err := decodeParam(p, h.params[i])
		if err != nil {
			return nil, fmt.Errorf("method %s param %d: %w", method, i, err)
		}
		args = append(args, v)
	}

	return h.unpack(h.fn.Call(args))
}

// unpack folds method results into a single value and error. Methods with
// more than one non-error result return them as a slice.
func (h *handler) unpack(out []reflect.Value) (interface{}, error) {
	if h.lastErr {
		last := out[len(out)-1]
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
		out = out[:len(out)-1]
	}

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	}
	values := make([]interface{}, len(out))
	for i, v := range out {
		values[i] = v.Interface()
	}
	return values, nil
}

// decodeParam converts one JSON decoded value to the parameter type
func decodeParam(p interface{}, to reflect.Type) (reflect.Value, error) {
	if p == nil {
		return reflect.Zero(to), nil
	}

	v := reflect.ValueOf(p)
	if v.Type().AssignableTo(to) {
		return v, nil
	}

	switch v.Kind() {
	case reflect.Float64:
		// JSON numbers
		f := v.Float()
		switch to.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if f != float64(int64(f)) {
				return reflect.Value{}, fmt.Errorf("%v is not an integer", f)
			}
			return reflect.ValueOf(int64(f)).Convert(to), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if f < 0 || f != float64(uint64(f)) {
				return reflect.Value{}, fmt.Errorf("%v is not an unsigned integer", f)
			}
			return reflect.ValueOf(uint64(f)).Convert(to), nil
		case reflect.Float32, reflect.Float64:
			return v.Convert(to), nil
		}
	case reflect.Map, reflect.Slice:
		raw, err := json.Marshal(p)
		if err != nil {
			return reflect.Value{}, err
		}
		dst := reflect.New(to)
		if err := json.Unmarshal(raw, dst.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("cannot decode into %s: %w", to, err)
		}
		return dst.Elem(), nil
	case to.Kind():
		// named string and bool types such as checkpoint.Strategy
		if v.Type().ConvertibleTo(to) {
			return v.Convert(to), nil
		}
	}

	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", p, to)
}
