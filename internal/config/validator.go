package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	cherrors "github.com/standardbeagle/classhunter/internal/errors"
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults
// Returns an error if validation fails
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if err := v.validateScanConfig(&cfg.Scan); err != nil {
		return cherrors.NewConfigError("scan", "", err)
	}

	if err := v.validateCacheConfig(&cfg.Cache); err != nil {
		return cherrors.NewConfigError("cache", "", err)
	}

	if err := v.validateLoaderConfig(&cfg.Loader); err != nil {
		return cherrors.NewConfigError("loader", "", err)
	}

	if err := v.validateBuildConfig(&cfg.Build); err != nil {
		return cherrors.NewConfigError("build", cfg.Build.Bucket, err)
	}

	if cfg.Watch.DebounceMs < 0 {
		return cherrors.NewConfigError("watch", "", fmt.Errorf("DebounceMs cannot be negative, got %d", cfg.Watch.DebounceMs))
	}

	v.setSmartDefaults(cfg)
	return nil
}

func (v *Validator) validateScanConfig(scan *Scan) error {
	if scan.ParallelThreshold < 0 {
		return fmt.Errorf("ParallelThreshold cannot be negative, got %d", scan.ParallelThreshold)
	}
	if scan.MaxWorkers < 0 {
		return fmt.Errorf("MaxWorkers cannot be negative, got %d", scan.MaxWorkers)
	}
	switch scan.ClassFileCheck {
	case "", "default", "extension", "header", "extension_and_header":
	default:
		return fmt.Errorf("unknown class file check %q", scan.ClassFileCheck)
	}
	for _, p := range append(append([]string{}, scan.Include...), scan.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

func (v *Validator) validateCacheConfig(cache *Cache) error {
	if cache.MemberCacheSize < 0 {
		return fmt.Errorf("MemberCacheSize cannot be negative, got %d", cache.MemberCacheSize)
	}
	if cache.HandleCacheSize < 0 {
		return fmt.Errorf("HandleCacheSize cannot be negative, got %d", cache.HandleCacheSize)
	}
	return nil
}

func (v *Validator) validateLoaderConfig(loader *Loader) error {
	for _, p := range loader.SystemPackages {
		if p == "" {
			return errors.New("system package prefix cannot be empty")
		}
	}
	return nil
}

func (v *Validator) validateBuildConfig(build *Build) error {
	if strings.ContainsAny(build.Bucket, `/\`) || build.Bucket == "." || build.Bucket == ".." {
		return fmt.Errorf("bucket must be a single path segment, got %q", build.Bucket)
	}
	return nil
}

// setSmartDefaults applies smart defaults based on system capabilities
func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Scan.MaxWorkers == 0 {
		cfg.Scan.MaxWorkers = max(1, runtime.NumCPU()-1)
	}
	if cfg.Scan.ClassFileCheck == "" || cfg.Scan.ClassFileCheck == "default" {
		cfg.Scan.ClassFileCheck = "extension_and_header"
	}
	if cfg.Cache.MemberCacheSize == 0 {
		cfg.Cache.MemberCacheSize = DefaultMemberCacheSize
	}
	if cfg.Cache.HandleCacheSize == 0 {
		cfg.Cache.HandleCacheSize = DefaultHandleCacheSize
	}
	if len(cfg.Loader.SystemPackages) == 0 {
		cfg.Loader.SystemPackages = Default().Loader.SystemPackages
	}
	if cfg.Build.Bucket == "" {
		cfg.Build.Bucket = DefaultBucket
	}
	if cfg.Build.TempDir == "" {
		cfg.Build.TempDir = os.TempDir()
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = DefaultWatchDebounceMs
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	validator := NewValidator()
	return validator.ValidateAndSetDefaults(cfg)
}
