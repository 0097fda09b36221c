package model

import "reflect"

// cloneResult deep copies the maps, slices, arrays, pointers and exported
// struct fields reachable from v. Unexported fields, channels and funcs stay
// shared.
func cloneResult(v any) any {
	if v == nil {
		return nil
	}
	c := cloner{seen: make(map[visit]reflect.Value)}
	return c.clone(reflect.ValueOf(v)).Interface()
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// cloner remembers the copies made so far, so shared and cyclic references
// keep their shape.
type cloner struct {
	seen map[visit]reflect.Value
}

func (c *cloner) clone(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if r, ok := c.seen[key]; ok {
			return r
		}
		r := reflect.New(v.Type().Elem())
		c.seen[key] = r
		r.Elem().Set(c.clone(v.Elem()))
		return r
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if r, ok := c.seen[key]; ok {
			return r
		}
		r := reflect.MakeMapWithSize(v.Type(), v.Len())
		c.seen[key] = r
		iter := v.MapRange()
		for iter.Next() {
			r.SetMapIndex(iter.Key(), c.clone(iter.Value()))
		}
		return r
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		key := visit{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if r, ok := c.seen[key]; ok && v.Len() > 0 {
			return r
		}
		r := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		c.seen[key] = r
		for i := range v.Len() {
			r.Index(i).Set(c.clone(v.Index(i)))
		}
		return r
	case reflect.Array:
		r := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			r.Index(i).Set(c.clone(v.Index(i)))
		}
		return r
	case reflect.Struct:
		r := reflect.New(v.Type()).Elem()
		r.Set(v)
		for i := range v.NumField() {
			if f := r.Field(i); f.CanSet() {
				f.Set(c.clone(v.Field(i)))
			}
		}
		return r
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		r := reflect.New(v.Type()).Elem()
		r.Set(c.clone(v.Elem()))
		return r
	default:
		return v
	}
}
