package script

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"reflect"
	"strconv"

	"github.com/CZERTAINLY/Runner/internal/model"
)

var (
	errorType   = reflect.TypeFor[error]()
	contextType = reflect.TypeFor[context.Context]()
)

// Invoke calls method of unit. With className it is a method of the zero
// value &className{}, otherwise a package level function. The args are
// passed positionally and converted to the parameter types. A function
// accepting context.Context as its first parameter receives ctx.
//
// Any failure, a returned non-nil error or a panic included, is reported as
// *InvocationError. The first non-error return value is the result.
func (h *Host) Invoke(ctx context.Context, unit *Unit, className, method string, args []string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &InvocationError{Msg: panicMessage(r)}
		}
	}()

	expr, err := unit.expr(className, method)
	if err != nil {
		return nil, &InvocationError{Msg: err.Error(), Err: err}
	}
	fn, err := unit.interp.EvalWithContext(ctx, expr)
	if err != nil {
		return nil, &InvocationError{Msg: err.Error(), Err: err}
	}
	if fn.Kind() != reflect.Func {
		err := fmt.Errorf("%s is not a function", expr)
		return nil, &InvocationError{Msg: err.Error(), Err: err}
	}

	in, err := arguments(ctx, fn.Type(), args)
	if err != nil {
		return nil, &InvocationError{Msg: fmt.Sprintf("%s: %v", expr, err), Err: err}
	}

	return outcome(fn.Call(in))
}

func (u *Unit) expr(className, method string) (string, error) {
	if !token.IsIdentifier(method) {
		return "", fmt.Errorf("invalid method name %q", method)
	}
	if className != "" && !token.IsIdentifier(className) {
		return "", fmt.Errorf("invalid class name %q", className)
	}
	var prefix string
	if u.Package != "main" {
		prefix = u.Package + "."
	}
	if className == "" {
		return prefix + method, nil
	}
	return fmt.Sprintf("(&%s%s{}).%s", prefix, className, method), nil
}

func arguments(ctx context.Context, typ reflect.Type, args []string) ([]reflect.Value, error) {
	var in []reflect.Value
	params := make([]reflect.Type, 0, typ.NumIn())
	for i := range typ.NumIn() {
		params = append(params, typ.In(i))
	}
	if len(params) > 0 && params[0] == contextType {
		in = append(in, reflect.ValueOf(ctx))
		params = params[1:]
	}

	fixed := len(params)
	if typ.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("expected at least %d arguments, got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("expected %d arguments, got %d", fixed, len(args))
	}

	for i, arg := range args {
		var t reflect.Type
		if i < fixed {
			t = params[i]
		} else {
			t = params[fixed].Elem()
		}
		v, err := convert(arg, t)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}
	return in, nil
}

func convert(arg string, t reflect.Type) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		v.SetString(arg)
	case reflect.Bool:
		b, err := strconv.ParseBool(arg)
		if err != nil {
			return v, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(arg, 0, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(arg, 0, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(arg, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetFloat(f)
	case reflect.Interface:
		if t.NumMethod() != 0 {
			return v, fmt.Errorf("unsupported parameter type %s", t)
		}
		v.Set(reflect.ValueOf(arg))
	default:
		return v, fmt.Errorf("unsupported parameter type %s", t)
	}
	return v, nil
}

func outcome(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type().Implements(errorType) {
		if !out[n-1].IsNil() {
			err, _ := out[n-1].Interface().(error)
			if err == nil {
				err = errors.New(fmt.Sprint(out[n-1].Interface()))
			}
			return nil, &InvocationError{Msg: err.Error(), Err: err}
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return value(out[0]), nil
}

// value unwraps v, nil pointers and interfaces are no result.
func value(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return nil
		}
	}
	if !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

func panicMessage(r any) string {
	switch x := r.(type) {
	case error:
		return x.Error()
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// InvocationError carries the original message of the failure.
type InvocationError struct {
	Msg string
	Err error
}

func (e *InvocationError) Error() string {
	return e.Msg
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

func (e *InvocationError) Is(target error) bool {
	return target == model.ErrInvocation
}
