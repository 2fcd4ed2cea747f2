package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Default values shared by code and configuration parsing
const (
	DefaultBucket            = "default"
	DefaultParallelThreshold = 1
	DefaultMemberCacheSize   = 4096
	DefaultHandleCacheSize   = 4096
	DefaultWatchDebounceMs   = 200
	ConfigFileKDL            = ".classhunter.kdl"
	ConfigFileTOML           = ".classhunter.toml"
)

// Config is the runtime configuration of a scanner, its loaders and the
// class factory built on top of them
type Config struct {
	Version int
	Scan    Scan
	Cache   Cache
	Loader  Loader
	Build   Build
	Watch   Watch
}

type Scan struct {
	// Multiple roots are scanned concurrently only when there are more than
	// ParallelThreshold of them
	ParallelThreshold int
	MaxWorkers        int
	ClassFileCheck    string   // "extension", "header" or "extension_and_header"
	DefaultPaths      []string // used when a search names no path
	Include           []string // doublestar patterns relative to each root
	Exclude           []string
}

type Cache struct {
	MemberCacheSize int // per-loader member lookup entries
	HandleCacheSize int // invocation handles
}

type Loader struct {
	// Packages resolved by the platform loader without byte code
	SystemPackages []string
}

type Build struct {
	TempDir           string // parent of the scanner-private persistence directory
	Bucket            string // namespace for persisted classes
	PersistCompiled   bool   // write compiled classes below TempDir/Bucket
	ExtraRepositories []string
}

type Watch struct {
	Enabled    bool
	DebounceMs int
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Version: 1,
		Scan: Scan{
			ParallelThreshold: DefaultParallelThreshold,
			MaxWorkers:        runtime.NumCPU(),
			ClassFileCheck:    "extension_and_header",
			Include:           []string{},
			Exclude:           []string{},
		},
		Cache: Cache{
			MemberCacheSize: DefaultMemberCacheSize,
			HandleCacheSize: DefaultHandleCacheSize,
		},
		Loader: Loader{
			SystemPackages: []string{"java.", "javax.", "jdk.", "sun."},
		},
		Build: Build{
			TempDir:         os.TempDir(),
			Bucket:          DefaultBucket,
			PersistCompiled: true,
		},
		Watch: Watch{
			Enabled:    false,
			DebounceMs: DefaultWatchDebounceMs,
		},
	}
}

// Load reads configuration for dir. A user-level file in the home directory
// provides the base; the project file in dir overrides it. KDL is preferred,
// TOML is accepted as a fallback; with neither present the defaults apply.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = "."
	}

	var base *Config
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(home) != filepath.Clean(dir) {
		if cfg, err := loadFrom(home); err == nil && cfg != nil {
			base = cfg
		}
	}

	project, err := loadFrom(dir)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	switch {
	case base != nil && project != nil:
		cfg = mergeConfigs(base, project)
	case project != nil:
		cfg = project
	case base != nil:
		cfg = base
	default:
		cfg = Default()
	}

	if err := NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFrom(dir string) (*Config, error) {
	cfg, err := LoadKDL(dir)
	if err != nil || cfg != nil {
		return cfg, err
	}
	return LoadTOML(dir)
}

// mergeConfigs merges a base config with a project config.
// Project config takes precedence, but base exclusions and default paths are preserved
func mergeConfigs(base, project *Config) *Config {
	merged := *project

	merged.Scan.Exclude = union(base.Scan.Exclude, project.Scan.Exclude)
	merged.Scan.DefaultPaths = union(base.Scan.DefaultPaths, project.Scan.DefaultPaths)
	merged.Build.ExtraRepositories = union(base.Build.ExtraRepositories, project.Build.ExtraRepositories)

	if len(project.Scan.Include) == 0 && len(base.Scan.Include) > 0 {
		merged.Scan.Include = base.Scan.Include
	}
	return &merged
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
