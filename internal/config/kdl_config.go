package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL attempts to load configuration from the .classhunter.kdl file in
// dir. A missing file yields (nil, nil).
func LoadKDL(dir string) (*Config, error) {
	kdlPath := filepath.Join(dir, ConfigFileKDL)

	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", ConfigFileKDL, err)
	}

	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, dir)
	return cfg, nil
}

// resolveRelativePaths anchors configured directories at the directory that
// holds the config file
func resolveRelativePaths(cfg *Config, dir string) {
	for i, p := range cfg.Scan.DefaultPaths {
		if !filepath.IsAbs(p) {
			cfg.Scan.DefaultPaths[i] = filepath.Clean(filepath.Join(dir, p))
		}
	}
	for i, p := range cfg.Build.ExtraRepositories {
		if !filepath.IsAbs(p) {
			cfg.Build.ExtraRepositories[i] = filepath.Clean(filepath.Join(dir, p))
		}
	}
	if cfg.Build.TempDir != "" && !filepath.IsAbs(cfg.Build.TempDir) {
		cfg.Build.TempDir = filepath.Clean(filepath.Join(dir, cfg.Build.TempDir))
	}
}

// parseKDL parses a classhunter configuration document on top of the defaults
func parseKDL(content string) (*Config, error) {
	cfg := Default()

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "version":
			if v, ok := firstIntArg(n); ok {
				cfg.Version = v
			}
		case "scan":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "parallel_threshold":
					if v, ok := firstIntArg(cn); ok {
						cfg.Scan.ParallelThreshold = v
					}
				case "max_workers":
					if v, ok := firstIntArg(cn); ok {
						cfg.Scan.MaxWorkers = v
					}
				case "class_file_check":
					if s, ok := firstStringArg(cn); ok {
						cfg.Scan.ClassFileCheck = s
					}
				case "default_paths":
					cfg.Scan.DefaultPaths = collectStringArgs(cn)
				case "include":
					cfg.Scan.Include = append(cfg.Scan.Include, collectStringArgs(cn)...)
				case "exclude":
					cfg.Scan.Exclude = collectStringArgs(cn)
				default:
					log.Printf("Warning: unknown scan setting '%s' in %s", nodeName(cn), ConfigFileKDL)
				}
			}
		case "cache":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "member_cache_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Cache.MemberCacheSize = v
					}
				case "handle_cache_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Cache.HandleCacheSize = v
					}
				}
			}
		case "loader":
			for _, cn := range n.Children {
				if nodeName(cn) == "system_packages" {
					cfg.Loader.SystemPackages = collectStringArgs(cn)
				}
			}
		case "build":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "temp_dir":
					assignSimpleString(cn, "temp_dir", func(v string) { cfg.Build.TempDir = v })
				case "bucket":
					assignSimpleString(cn, "bucket", func(v string) { cfg.Build.Bucket = v })
				case "persist_compiled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Build.PersistCompiled = b
					}
				case "extra_repositories":
					cfg.Build.ExtraRepositories = collectStringArgs(cn)
				}
			}
		case "watch":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Watch.Enabled = b
					}
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.DebounceMs = v
					}
				}
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		log.Printf("WARNING: invalid integer value for '%s' in KDL config, got %T", nodeName(n), n.Arguments[0].Value)
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

// collectStringArgs accepts both the inline form (exclude "a" "b") and the
// block form (exclude { "a"; "b" })
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
