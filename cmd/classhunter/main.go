package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/classhunter/internal/config"
	"github.com/standardbeagle/classhunter/internal/debug"
	"github.com/standardbeagle/classhunter/internal/version"
	"github.com/standardbeagle/classhunter/pkg/pathutil"
)

// loadConfigWithOverrides loads configuration for the --config directory and
// applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	dir := c.String("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", dir, err)
	}

	if includeFlags := c.StringSlice("include"); len(includeFlags) > 0 {
		cfg.Scan.Include = includeFlags
	}
	if excludeFlags := c.StringSlice("exclude"); len(excludeFlags) > 0 {
		cfg.Scan.Exclude = append(cfg.Scan.Exclude, excludeFlags...)
	}
	if check := c.String("check"); check != "" {
		cfg.Scan.ClassFileCheck = check
	}
	if c.IsSet("workers") {
		cfg.Scan.MaxWorkers = c.Int("workers")
	}
	if err := config.NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// searchPaths returns the command arguments as absolute paths, falling back
// to the configured default paths
func searchPaths(c *cli.Context, cfg *config.Config) ([]string, error) {
	args := c.Args().Slice()
	if len(args) == 0 {
		args = cfg.Scan.DefaultPaths
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no paths given and no default paths configured")
	}
	return pathutil.ToAbsolute(args)
}

// displayRoot returns the directory printed paths are made relative to,
// empty when --relative is off
func displayRoot(c *cli.Context) string {
	if !c.Bool("relative") {
		return ""
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "classhunter",
		Usage:                  "Find classes, byte code and class paths in folders and archives",
		Version:                version.Info(),
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Directory holding .classhunter.kdl or .classhunter.toml",
				Value:   ".",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Only consider files matching glob patterns (e.g., --include 'com/acme/**')",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Skip files matching glob patterns (e.g., --exclude '**/test/**')",
			},
			&cli.StringFlag{
				Name:  "check",
				Usage: "How class files are recognized: extension, header or extension_and_header",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Maximum number of paths scanned concurrently",
			},
			&cli.BoolFlag{
				Name:  "relative",
				Usage: "Print paths relative to the working directory",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Write debug logs to stderr",
			},
			&cli.BoolFlag{
				Name:  "debug-file",
				Usage: "Write debug logs to a timestamped file in the temp directory",
			},
			&cli.StringSliceFlag{
				Name:  "debug-components",
				Usage: "Only log these components (scan, cache, loader, build, members, watch)",
			},
		},
		Before: func(c *cli.Context) error {
			if !c.Bool("debug") && !c.Bool("debug-file") {
				return nil
			}
			debug.EnableDebug = "true"
			debug.SetComponents(c.StringSlice("debug-components")...)
			if c.Bool("debug-file") {
				path, err := debug.InitDebugLogFile()
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "debug log: %s\n", path)
				return nil
			}
			debug.SetDebugOutput(os.Stderr)
			return nil
		},
		After: func(c *cli.Context) error {
			return debug.CloseDebugLog()
		},
		Commands: []*cli.Command{
			scanCommand(),
			findCommand(),
			bytesCommand(),
			membersCommand(),
			{
				Name:  "version",
				Usage: "Show build information",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version.FullInfo())
					return nil
				},
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
