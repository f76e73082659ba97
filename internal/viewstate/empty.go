package viewstate

import "reflect"

// Emptier は独自の空判定を持つ型が実装する。
type Emptier interface {
	IsEmpty() bool
}

// isEmpty は取得結果が空かを判定する。
// スライスとマップは長さ、ポインタとインターフェースはnilで判定する。
// それ以外の型（構造体など）は空とみなさない。
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if e, ok := v.(Emptier); ok {
		return e.IsEmpty()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		if e, ok := rv.Elem().Interface().(Emptier); ok {
			return e.IsEmpty()
		}
		return false
	default:
		return false
	}
}
