package classfile

import (
	"bytes"
	"encoding/binary"
)

// Default version written by Builder (Java 8)
const (
	DefaultMajor uint16 = 52
	DefaultMinor uint16 = 0
)

// Builder writes minimal but structurally valid class files: a constant
// pool holding names and descriptors, the class header, and field and
// method tables without attributes.
type Builder struct {
	name       string
	super      string
	interfaces []string
	access     uint16
	fields     []Member
	methods    []Member
}

// NewBuilder starts a public class extending java.lang.Object
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		super:  "java.lang.Object",
		access: AccPublic | AccSuper,
	}
}

// Extends sets the superclass; empty means no superclass (root type)
func (b *Builder) Extends(super string) *Builder {
	b.super = super
	return b
}

// Implements appends interfaces
func (b *Builder) Implements(names ...string) *Builder {
	b.interfaces = append(b.interfaces, names...)
	return b
}

// Interface marks the class as an interface
func (b *Builder) Interface() *Builder {
	b.access = AccPublic | AccInterface | AccAbstract
	return b
}

// Access overrides the class access flags
func (b *Builder) Access(flags uint16) *Builder {
	b.access = flags
	return b
}

// Field declares a field of the given source-style type
func (b *Builder) Field(access uint16, name, typeName string) *Builder {
	b.fields = append(b.fields, Member{Kind: KindField, Name: name, Descriptor: TypeDescriptor(typeName), Access: access})
	return b
}

// Method declares a method with source-style parameter and return types
func (b *Builder) Method(access uint16, name, ret string, params ...string) *Builder {
	b.methods = append(b.methods, Member{Kind: KindMethod, Name: name, Descriptor: MethodDescriptor(ret, params...), Access: access})
	return b
}

// Constructor declares an instance initializer
func (b *Builder) Constructor(access uint16, params ...string) *Builder {
	b.methods = append(b.methods, Member{Kind: KindConstructor, Name: "<init>", Descriptor: MethodDescriptor("void", params...), Access: access})
	return b
}

type poolWriter struct {
	buf   bytes.Buffer
	count uint16
	utf8  map[string]uint16
	class map[string]uint16
}

func (p *poolWriter) utf8Index(s string) uint16 {
	if idx, ok := p.utf8[s]; ok {
		return idx
	}
	p.count++
	idx := p.count
	p.buf.WriteByte(tagUtf8)
	_ = binary.Write(&p.buf, binary.BigEndian, uint16(len(s)))
	p.buf.WriteString(s)
	p.utf8[s] = idx
	return idx
}

func (p *poolWriter) classIndex(binaryName string) uint16 {
	if idx, ok := p.class[binaryName]; ok {
		return idx
	}
	nameIdx := p.utf8Index(InternalName(binaryName))
	p.count++
	idx := p.count
	p.buf.WriteByte(tagClass)
	_ = binary.Write(&p.buf, binary.BigEndian, nameIdx)
	p.class[binaryName] = idx
	return idx
}

// Bytes renders the class file
func (b *Builder) Bytes() []byte {
	pool := &poolWriter{utf8: map[string]uint16{}, class: map[string]uint16{}}
	thisIdx := pool.classIndex(b.name)
	var superIdx uint16
	if b.super != "" {
		superIdx = pool.classIndex(b.super)
	}
	ifaceIdx := make([]uint16, len(b.interfaces))
	for i, n := range b.interfaces {
		ifaceIdx[i] = pool.classIndex(n)
	}
	type memberIdx struct{ access, name, desc uint16 }
	index := func(ms []Member) []memberIdx {
		out := make([]memberIdx, len(ms))
		for i, m := range ms {
			out[i] = memberIdx{m.Access, pool.utf8Index(m.Name), pool.utf8Index(m.Descriptor)}
		}
		return out
	}
	fields := index(b.fields)
	methods := index(b.methods)

	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(Magic)
	w(DefaultMinor)
	w(DefaultMajor)
	w(pool.count + 1)
	out.Write(pool.buf.Bytes())
	w(b.access)
	w(thisIdx)
	w(superIdx)
	w(uint16(len(ifaceIdx)))
	for _, idx := range ifaceIdx {
		w(idx)
	}
	for _, table := range [][]memberIdx{fields, methods} {
		w(uint16(len(table)))
		for _, m := range table {
			w(m.access)
			w(m.name)
			w(m.desc)
			w(uint16(0)) // attributes
		}
	}
	w(uint16(0)) // class attributes
	return out.Bytes()
}
