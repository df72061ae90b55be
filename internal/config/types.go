package config

import (
	"fmt"
	"strings"
)

// TypeKind enumerates the declarable state and output field types.
type TypeKind string

const (
	TypeStr   TypeKind = "str"
	TypeInt   TypeKind = "int"
	TypeFloat TypeKind = "float"
	TypeBool  TypeKind = "bool"
	TypeList  TypeKind = "list"
	TypeDict  TypeKind = "dict"
	TypeAny   TypeKind = "any"
)

// TypeSpec is a parsed type declaration such as "int" or "list[str]".
type TypeSpec struct {
	Kind TypeKind
	Elem *TypeSpec // list element type
	Key  *TypeSpec // dict key type
	Val  *TypeSpec // dict value type
}

// ParseType parses a declared type string. Supported forms: str, int, float,
// bool, any, list[T], dict[K,V].
func ParseType(spec string) (TypeSpec, error) {
	spec = strings.TrimSpace(spec)
	switch TypeKind(spec) {
	case TypeStr, TypeInt, TypeFloat, TypeBool, TypeAny:
		return TypeSpec{Kind: TypeKind(spec)}, nil
	}

	if strings.HasPrefix(spec, "list[") && strings.HasSuffix(spec, "]") {
		inner, err := ParseType(spec[len("list[") : len(spec)-1])
		if err != nil {
			return TypeSpec{}, fmt.Errorf("list element: %w", err)
		}
		return TypeSpec{Kind: TypeList, Elem: &inner}, nil
	}

	if strings.HasPrefix(spec, "dict[") && strings.HasSuffix(spec, "]") {
		parts := splitTopLevel(spec[len("dict[") : len(spec)-1])
		if len(parts) != 2 {
			return TypeSpec{}, fmt.Errorf("dict type needs exactly two parameters, got %q", spec)
		}
		key, err := ParseType(parts[0])
		if err != nil {
			return TypeSpec{}, fmt.Errorf("dict key: %w", err)
		}
		val, err := ParseType(parts[1])
		if err != nil {
			return TypeSpec{}, fmt.Errorf("dict value: %w", err)
		}
		return TypeSpec{Kind: TypeDict, Key: &key, Val: &val}, nil
	}

	return TypeSpec{}, fmt.Errorf("unknown type %q", spec)
}

// splitTopLevel splits on commas outside brackets, so dict[str,list[int]]
// parses correctly.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

// String renders the spec back to its declaration form.
func (t TypeSpec) String() string {
	switch t.Kind {
	case TypeList:
		return fmt.Sprintf("list[%s]", t.Elem)
	case TypeDict:
		return fmt.Sprintf("dict[%s,%s]", t.Key, t.Val)
	default:
		return string(t.Kind)
	}
}

// Check reports whether value conforms to the spec. Numeric state arriving
// from JSON decodes as float64; ints accept whole floats.
func (t TypeSpec) Check(value any) bool {
	if value == nil {
		return t.Kind == TypeAny
	}
	switch t.Kind {
	case TypeAny:
		return true
	case TypeStr:
		_, ok := value.(string)
		return ok
	case TypeBool:
		_, ok := value.(bool)
		return ok
	case TypeInt:
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		case float32:
			return v == float32(int32(v))
		default:
			return false
		}
	case TypeFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		default:
			return false
		}
	case TypeList:
		items, ok := value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if !t.Elem.Check(item) {
				return false
			}
		}
		return true
	case TypeDict:
		entries, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for _, v := range entries {
			if !t.Val.Check(v) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
