package testhelpers

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/standardbeagle/classhunter/internal/classfile"
)

// ClassBytes renders a public class extending super (java.lang.Object when empty)
func ClassBytes(name, super string, interfaces ...string) []byte {
	b := classfile.NewBuilder(name).Implements(interfaces...)
	if super != "" {
		b.Extends(super)
	}
	return b.Bytes()
}

// InterfaceBytes renders a public interface extending the given interfaces
func InterfaceBytes(name string, extends ...string) []byte {
	return classfile.NewBuilder(name).Interface().Implements(extends...).Bytes()
}

// WriteClass stores a class file below root at its package path and
// returns the absolute file path
func WriteClass(t testing.TB, root string, data []byte) string {
	t.Helper()
	name, err := classfile.ReadName(data)
	if err != nil {
		t.Fatalf("invalid class bytes: %v", err)
	}
	path := filepath.Join(root, filepath.FromSlash(classfile.ResourcePath(name)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

// WriteClasses writes one class per name, all extending java.lang.Object
func WriteClasses(t testing.TB, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		WriteClass(t, root, ClassBytes(n, ""))
	}
}

// ZipBytes builds an in-memory zip archive from entry name -> content
func ZipBytes(t testing.TB, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// WriteJar writes a jar containing the given classes (keyed by resource
// path) plus any extra entries, and returns its path
func WriteJar(t testing.TB, path string, classes map[string][]byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, ZipBytes(t, classes), 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}
	return path
}

// ClassEntries maps each class to its resource path inside an archive
func ClassEntries(classes ...[]byte) map[string][]byte {
	out := make(map[string][]byte, len(classes))
	for _, data := range classes {
		name, err := classfile.ReadName(data)
		if err != nil {
			continue
		}
		out[classfile.ResourcePath(name)] = data
	}
	return out
}
