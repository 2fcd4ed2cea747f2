package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

type tomlFile struct {
	Version int `toml:"version"`
	Scan    struct {
		ParallelThreshold *int     `toml:"parallel_threshold"`
		MaxWorkers        *int     `toml:"max_workers"`
		ClassFileCheck    string   `toml:"class_file_check"`
		DefaultPaths      []string `toml:"default_paths"`
		Include           []string `toml:"include"`
		Exclude           []string `toml:"exclude"`
	} `toml:"scan"`
	Cache struct {
		MemberCacheSize *int `toml:"member_cache_size"`
		HandleCacheSize *int `toml:"handle_cache_size"`
	} `toml:"cache"`
	Loader struct {
		SystemPackages []string `toml:"system_packages"`
	} `toml:"loader"`
	Build struct {
		TempDir           string   `toml:"temp_dir"`
		Bucket            string   `toml:"bucket"`
		PersistCompiled   *bool    `toml:"persist_compiled"`
		ExtraRepositories []string `toml:"extra_repositories"`
	} `toml:"build"`
	Watch struct {
		Enabled    *bool `toml:"enabled"`
		DebounceMs *int  `toml:"debounce_ms"`
	} `toml:"watch"`
}

// LoadTOML attempts to load configuration from the .classhunter.toml file in
// dir. A missing file yields (nil, nil).
func LoadTOML(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileTOML)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", ConfigFileTOML, err)
	}

	cfg, err := parseTOML(data)
	if err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, dir)
	return cfg, nil
}

func parseTOML(data []byte) (*Config, error) {
	var f tomlFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	cfg := Default()
	if f.Version != 0 {
		cfg.Version = f.Version
	}
	setInt(&cfg.Scan.ParallelThreshold, f.Scan.ParallelThreshold)
	setInt(&cfg.Scan.MaxWorkers, f.Scan.MaxWorkers)
	setString(&cfg.Scan.ClassFileCheck, f.Scan.ClassFileCheck)
	if f.Scan.DefaultPaths != nil {
		cfg.Scan.DefaultPaths = f.Scan.DefaultPaths
	}
	if f.Scan.Include != nil {
		cfg.Scan.Include = f.Scan.Include
	}
	if f.Scan.Exclude != nil {
		cfg.Scan.Exclude = f.Scan.Exclude
	}

	setInt(&cfg.Cache.MemberCacheSize, f.Cache.MemberCacheSize)
	setInt(&cfg.Cache.HandleCacheSize, f.Cache.HandleCacheSize)

	if f.Loader.SystemPackages != nil {
		cfg.Loader.SystemPackages = f.Loader.SystemPackages
	}

	setString(&cfg.Build.TempDir, f.Build.TempDir)
	setString(&cfg.Build.Bucket, f.Build.Bucket)
	if f.Build.PersistCompiled != nil {
		cfg.Build.PersistCompiled = *f.Build.PersistCompiled
	}
	if f.Build.ExtraRepositories != nil {
		cfg.Build.ExtraRepositories = f.Build.ExtraRepositories
	}

	if f.Watch.Enabled != nil {
		cfg.Watch.Enabled = *f.Watch.Enabled
	}
	setInt(&cfg.Watch.DebounceMs, f.Watch.DebounceMs)
	return cfg, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
