// Package classfile reads and writes the header of compiled class files:
// constant pool, class names, and the field and method tables. Byte code is
// never interpreted; attributes are skipped.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"

	cherrors "github.com/standardbeagle/classhunter/internal/errors"
)

// Magic is the leading four bytes of every class file
const Magic uint32 = 0xCAFEBABE

// Extension is the conventional file extension of compiled classes
const Extension = ".class"

// Access flags
const (
	AccPublic     uint16 = 0x0001
	AccPrivate    uint16 = 0x0002
	AccProtected  uint16 = 0x0004
	AccStatic     uint16 = 0x0008
	AccFinal      uint16 = 0x0010
	AccSuper      uint16 = 0x0020
	AccVolatile   uint16 = 0x0040
	AccBridge     uint16 = 0x0040
	AccVarArgs    uint16 = 0x0080
	AccNative     uint16 = 0x0100
	AccInterface  uint16 = 0x0200
	AccAbstract   uint16 = 0x0400
	AccSynthetic  uint16 = 0x1000
	AccAnnotation uint16 = 0x2000
	AccEnum       uint16 = 0x4000
)

// Constant pool tags
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

var (
	errTruncated = errors.New("truncated class file")
	errBadMagic  = errors.New("bad magic number")
)

// MemberKind distinguishes fields, methods and constructors
type MemberKind int

const (
	KindField MemberKind = iota
	KindMethod
	KindConstructor
)

func (k MemberKind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindMethod:
		return "method"
	case KindConstructor:
		return "constructor"
	}
	return "unknown"
}

// Member is a field, method or constructor declared by a class
type Member struct {
	Kind       MemberKind
	Name       string
	Descriptor string
	Access     uint16
}

// IsStatic reports whether the member is static
func (m Member) IsStatic() bool { return m.Access&AccStatic != 0 }

// IsVarArgs reports whether the member is a variable-arity method
func (m Member) IsVarArgs() bool { return m.Kind != KindField && m.Access&AccVarArgs != 0 }

// IsConstructor reports whether the member is an instance initializer
func (m Member) IsConstructor() bool { return m.Kind == KindConstructor }

// ParamTypes returns the parameter types of a method or constructor as
// source-style type names. Fields have no parameters.
func (m Member) ParamTypes() []string {
	if m.Kind == KindField {
		return nil
	}
	params, _, err := ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil
	}
	return params
}

// Type returns the field type, or the return type of a method
func (m Member) Type() string {
	if m.Kind == KindField {
		t, _, err := parseFieldType(m.Descriptor, 0)
		if err != nil {
			return ""
		}
		return t
	}
	_, ret, err := ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return ""
	}
	return ret
}

// Descriptor is the parsed header of a class file
type Descriptor struct {
	Minor      uint16
	Major      uint16
	Access     uint16
	Name       string // binary name, e.g. "a.b.C"
	SuperName  string // empty for the root type
	Interfaces []string
	Fields     []Member
	Methods    []Member // methods and constructors
}

// IsInterface reports whether the descriptor declares an interface
func (d *Descriptor) IsInterface() bool { return d.Access&AccInterface != 0 }

// Package returns the package part of the class name
func (d *Descriptor) Package() string { return PackageOf(d.Name) }

// Dependencies returns the classes that must be resolvable before this
// class can be defined: the superclass followed by the interfaces.
func (d *Descriptor) Dependencies() []string {
	deps := make([]string, 0, 1+len(d.Interfaces))
	if d.SuperName != "" {
		deps = append(deps, d.SuperName)
	}
	return append(deps, d.Interfaces...)
}

type cpEntry struct {
	tag   byte
	utf8  string
	index uint16 // class name index for tagClass
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) u1() (byte, error) {
	if r.pos+1 > len(r.data) {
		return 0, errTruncated
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u2() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, errTruncated
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u4() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, errTruncated
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) skip(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return errTruncated
	}
	r.pos += n
	return nil
}

// HasMagic reports whether data starts with the class file magic number
func HasMagic(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data) == Magic
}

// Parse reads the header of a class file. Errors are *errors.ClassFormatError.
func Parse(data []byte) (*Descriptor, error) {
	d, err := parse(data, false)
	if err != nil {
		return nil, cherrors.NewClassFormatError("", err)
	}
	return d, nil
}

// ReadName returns only the binary name of the class in data
func ReadName(data []byte) (string, error) {
	d, err := parse(data, true)
	if err != nil {
		return "", cherrors.NewClassFormatError("", err)
	}
	return d.Name, nil
}

func parse(data []byte, nameOnly bool) (*Descriptor, error) {
	r := &reader{data: data}
	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, errBadMagic
	}
	d := &Descriptor{}
	if d.Minor, err = r.u2(); err != nil {
		return nil, err
	}
	if d.Major, err = r.u2(); err != nil {
		return nil, err
	}
	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}
	if d.Access, err = r.u2(); err != nil {
		return nil, err
	}
	thisIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if d.Name, err = className(pool, thisIdx); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if nameOnly {
		return d, nil
	}
	superIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if superIdx != 0 {
		if d.SuperName, err = className(pool, superIdx); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := className(pool, idx)
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		d.Interfaces = append(d.Interfaces, name)
	}
	if d.Fields, err = readMembers(r, pool, true); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	if d.Methods, err = readMembers(r, pool, false); err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}
	return d, nil
}

func readPool(r *reader) ([]cpEntry, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	pool := make([]cpEntry, count)
	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		pool[i].tag = tag
		switch tag {
		case tagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			start := r.pos
			if err := r.skip(int(n)); err != nil {
				return nil, err
			}
			pool[i].utf8 = string(r.data[start:r.pos])
		case tagClass:
			if pool[i].index, err = r.u2(); err != nil {
				return nil, err
			}
		case tagString, tagMethodType, tagModule, tagPackage:
			err = r.skip(2)
		case tagMethodHandle:
			err = r.skip(3)
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			err = r.skip(4)
		case tagLong, tagDouble:
			err = r.skip(8)
			// 8-byte constants take two slots
			i++
		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
		if err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func utf8At(pool []cpEntry, idx uint16) (string, error) {
	if int(idx) <= 0 || int(idx) >= len(pool) || pool[idx].tag != tagUtf8 {
		return "", fmt.Errorf("invalid utf8 constant index %d", idx)
	}
	return pool[idx].utf8, nil
}

func className(pool []cpEntry, idx uint16) (string, error) {
	if int(idx) <= 0 || int(idx) >= len(pool) || pool[idx].tag != tagClass {
		return "", fmt.Errorf("invalid class constant index %d", idx)
	}
	internal, err := utf8At(pool, pool[idx].index)
	if err != nil {
		return "", err
	}
	return BinaryName(internal), nil
}

func readMembers(r *reader, pool []cpEntry, fields bool) ([]Member, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, count)
	for i := 0; i < int(count); i++ {
		var m Member
		if m.Access, err = r.u2(); err != nil {
			return nil, err
		}
		nameIdx, err := r.u2()
		if err != nil {
			return nil, err
		}
		descIdx, err := r.u2()
		if err != nil {
			return nil, err
		}
		if m.Name, err = utf8At(pool, nameIdx); err != nil {
			return nil, err
		}
		if m.Descriptor, err = utf8At(pool, descIdx); err != nil {
			return nil, err
		}
		switch {
		case fields:
			m.Kind = KindField
		case m.Name == "<init>":
			m.Kind = KindConstructor
		default:
			m.Kind = KindMethod
		}
		if err := skipAttributes(r); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

func skipAttributes(r *reader) error {
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if err := r.skip(2); err != nil {
			return err
		}
		n, err := r.u4()
		if err != nil {
			return err
		}
		if err := r.skip(int(n)); err != nil {
			return err
		}
	}
	return nil
}
