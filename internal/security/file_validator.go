package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/classhunter/internal/classfile"
)

var (
	errEscapesRoot = errors.New("path escapes output directory")
	errBadName     = errors.New("invalid binary class name")
)

// ClassValidator checks compiler output before it is written to disk.
// Class names and byte code come from an external compiler, so a name like
// "../../x" or byte code declaring another class must not reach the file
// system.
type ClassValidator struct {
	MaxClassSize int // bytes, 0 means no limit
}

// NewClassValidator creates a validator rejecting classes larger than
// maxKB kilobytes (0 for no limit)
func NewClassValidator(maxKB int) *ClassValidator {
	return &ClassValidator{MaxClassSize: maxKB * 1024}
}

// ValidateName checks that name is a dotted binary name whose segments
// cannot be read as path elements
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", errBadName)
	}
	for _, seg := range strings.Split(name, ".") {
		if seg == "" || strings.ContainsAny(seg, `/\:`) || strings.ContainsRune(seg, 0) {
			return fmt.Errorf("%w: %q", errBadName, name)
		}
	}
	return nil
}

// SafeJoin joins rel below root and fails when the result would leave root
func SafeJoin(root, rel string) (string, error) {
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: %s", errEscapesRoot, rel)
	}
	root = filepath.Clean(root)
	path := filepath.Join(root, filepath.FromSlash(rel))
	back, err := filepath.Rel(root, path)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errEscapesRoot, rel)
	}
	return path, nil
}

// Validate checks that data is a class file declaring name
func (v *ClassValidator) Validate(name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if v.MaxClassSize > 0 && len(data) > v.MaxClassSize {
		return fmt.Errorf("class %s is %d bytes, limit is %d", name, len(data), v.MaxClassSize)
	}
	if !classfile.HasMagic(data) {
		return fmt.Errorf("magic bytes of %s are not a class file signature", name)
	}
	declared, err := classfile.ReadName(data)
	if err != nil {
		return fmt.Errorf("class %s: %w", name, err)
	}
	if declared != name {
		return fmt.Errorf("byte code registered as %s declares %s", name, declared)
	}
	return nil
}

// OutputPath validates name and data and returns where the class file goes
// below root
func (v *ClassValidator) OutputPath(root, name string, data []byte) (string, error) {
	if err := v.Validate(name, data); err != nil {
		return "", err
	}
	return SafeJoin(root, classfile.ResourcePath(name))
}
