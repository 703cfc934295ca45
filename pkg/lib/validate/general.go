package validate

import (
	"fmt"
	"reflect"
	"strings"
)

func createError(msg string, args ...any) error {
	return fmt.Errorf(msg, args...)
}

// NotNil returns an error if value is nil, including typed nil pointers,
// maps, slices, channels, and funcs hiding behind an interface.
func NotNil(value any, msg string, args ...any) error {
	if value == nil {
		return createError(msg, args...)
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		if v.IsNil() {
			return createError(msg, args...)
		}
	default:
	}
	return nil
}

// NotBlank returns an error if the string is empty or whitespace only.
func NotBlank(value string, msg string, args ...any) error {
	if strings.TrimSpace(value) == "" {
		return createError(msg, args...)
	}
	return nil
}
