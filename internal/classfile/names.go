package classfile

import (
	"fmt"
	"strings"
)

// BinaryName converts an internal name ("a/b/C") to a binary name ("a.b.C")
func BinaryName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// InternalName converts a binary name ("a.b.C") to an internal name ("a/b/C")
func InternalName(binary string) string {
	return strings.ReplaceAll(binary, ".", "/")
}

// PackageOf returns the package of a binary class name, empty for the
// unnamed package
func PackageOf(binary string) string {
	if i := strings.LastIndexByte(binary, '.'); i >= 0 {
		return binary[:i]
	}
	return ""
}

// SimpleName returns the class name without its package
func SimpleName(binary string) string {
	if i := strings.LastIndexByte(binary, '.'); i >= 0 {
		return binary[i+1:]
	}
	return binary
}

// ResourcePath returns the relative path of a class inside a class-path
// root: "a.b.C" -> "a/b/C.class"
func ResourcePath(binary string) string {
	return InternalName(binary) + Extension
}

// NameFromResourcePath is the inverse of ResourcePath. ok is false when
// the path does not name a class file.
func NameFromResourcePath(rel string) (string, bool) {
	rel = strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "/")
	if !strings.HasSuffix(rel, Extension) {
		return "", false
	}
	return BinaryName(strings.TrimSuffix(rel, Extension)), true
}

var primitives = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// IsPrimitive reports whether a source-style type name is a primitive
func IsPrimitive(typeName string) bool {
	for _, p := range primitives {
		if p == typeName {
			return true
		}
	}
	return false
}

// ParseMethodDescriptor converts "(ILjava/lang/String;[J)V" into
// ["int", "java.lang.String", "long[]"] and "void".
func ParseMethodDescriptor(desc string) (params []string, ret string, err error) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, "", fmt.Errorf("invalid method descriptor %q", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		t, next, err := parseFieldType(desc, i)
		if err != nil {
			return nil, "", err
		}
		params = append(params, t)
		i = next
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("unterminated method descriptor %q", desc)
	}
	ret, _, err = parseFieldType(desc, i+1)
	if err != nil {
		return nil, "", err
	}
	return params, ret, nil
}

func parseFieldType(desc string, i int) (string, int, error) {
	dims := 0
	for i < len(desc) && desc[i] == '[' {
		dims++
		i++
	}
	if i >= len(desc) {
		return "", i, fmt.Errorf("truncated type in descriptor %q", desc)
	}
	var name string
	switch c := desc[i]; c {
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			return "", i, fmt.Errorf("unterminated reference type in %q", desc)
		}
		name = BinaryName(desc[i+1 : i+end])
		i += end + 1
	default:
		p, ok := primitives[c]
		if !ok {
			return "", i, fmt.Errorf("invalid type character %q in %q", c, desc)
		}
		name = p
		i++
	}
	return name + strings.Repeat("[]", dims), i, nil
}

// TypeDescriptor converts a source-style type name to its descriptor form:
// "java.lang.String[]" -> "[Ljava/lang/String;"
func TypeDescriptor(typeName string) string {
	dims := 0
	for strings.HasSuffix(typeName, "[]") {
		dims++
		typeName = strings.TrimSuffix(typeName, "[]")
	}
	var b strings.Builder
	b.WriteString(strings.Repeat("[", dims))
	for c, p := range primitives {
		if p == typeName {
			b.WriteByte(c)
			return b.String()
		}
	}
	b.WriteString("L")
	b.WriteString(InternalName(typeName))
	b.WriteString(";")
	return b.String()
}

// MethodDescriptor builds a method descriptor from source-style type names
func MethodDescriptor(ret string, params ...string) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range params {
		b.WriteString(TypeDescriptor(p))
	}
	b.WriteByte(')')
	if ret == "" {
		ret = "void"
	}
	b.WriteString(TypeDescriptor(ret))
	return b.String()
}

// ElementType strips one array dimension: "int[][]" -> "int[]"
func ElementType(typeName string) (string, bool) {
	if strings.HasSuffix(typeName, "[]") {
		return strings.TrimSuffix(typeName, "[]"), true
	}
	return typeName, false
}
