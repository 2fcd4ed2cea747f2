package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/classhunter/internal/classfile"
)

func TestValidateName(t *testing.T) {
	for _, name := range []string{"A", "a.b.C", "a.b.C$Inner", "_x.y1"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", "a..B", ".A", "a.", "a/b.C", `a\b.C`, "c:.A"} {
		assert.ErrorIs(t, ValidateName(name), errBadName, name)
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	path, err := SafeJoin(root, "a/b/C.class")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b", "C.class"), path)

	for _, rel := range []string{"../x.class", "a/../../x.class", "/etc/passwd"} {
		_, err := SafeJoin(root, rel)
		assert.ErrorIs(t, err, errEscapesRoot, rel)
	}
}

func TestClassValidator(t *testing.T) {
	v := NewClassValidator(0)
	data := classfile.NewBuilder("a.B").Bytes()

	t.Run("ValidClass", func(t *testing.T) {
		path, err := v.OutputPath("/out", "a.B", data)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/out", "a", "B.class"), path)
	})

	t.Run("NameMismatch", func(t *testing.T) {
		err := v.Validate("a.C", data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "declares a.B")
	})

	t.Run("NotAClassFile", func(t *testing.T) {
		err := v.Validate("a.B", []byte("PK\x03\x04 not a class"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "magic bytes")
	})

	t.Run("TooLarge", func(t *testing.T) {
		small := NewClassValidator(0)
		small.MaxClassSize = 8
		assert.Error(t, small.Validate("a.B", data))
	})
}
