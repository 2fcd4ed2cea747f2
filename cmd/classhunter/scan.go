package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/classhunter/internal/config"
	"github.com/standardbeagle/classhunter/internal/scan"
	"github.com/standardbeagle/classhunter/internal/watch"
	"github.com/standardbeagle/classhunter/pkg/pathutil"
)

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Aliases:   []string{"s"},
		Usage:     "List the classes found below paths",
		ArgsUsage: "[paths...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "children-only",
				Usage: "Only consider the immediate children of each path",
			},
			&cli.BoolFlag{
				Name:    "class-paths",
				Aliases: []string{"p"},
				Usage:   "Print the class path roots instead of the classes",
			},
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Keep running and rescan paths when they change",
			},
		},
		Action: scanAction,
	}
}

func scanAction(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	paths, err := searchPaths(c, cfg)
	if err != nil {
		return err
	}

	root := displayRoot(c)
	sc := func() *scan.SearchConfig {
		s := scan.NewSearchConfig(paths...)
		if c.Bool("children-only") {
			s = s.WithTraversal(scan.ChildrenOnly)
		}
		return s
	}
	show := func(w io.Writer, r *scan.Result) {
		if c.Bool("class-paths") {
			for _, p := range r.ClassPaths() {
				fmt.Fprintln(w, pathutil.ToRelative(p, root))
			}
			return
		}
		printItems(w, r.Items(), root)
		for _, name := range r.Skipped() {
			fmt.Fprintf(os.Stderr, "skipped: %s\n", name)
		}
	}

	if !c.Bool("watch") && !cfg.Watch.Enabled {
		h, err := scan.NewByteCodeHunter(cfg)
		if err != nil {
			return err
		}
		defer h.Close()
		r, err := h.Find(c.Context, sc())
		if err != nil {
			return err
		}
		defer r.Close()
		show(c.App.Writer, r)
		return nil
	}
	return watchAndScan(c, cfg, paths, sc, show)
}

// watchAndScan prints a listing and reprints it every time a watched path
// changes, until interrupted. Unchanged paths are served from the cache.
func watchAndScan(c *cli.Context, cfg *config.Config, paths []string, sc func() *scan.SearchConfig, show func(io.Writer, *scan.Result)) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	changed := make(chan []string, 1)
	w, err := watch.New(cfg, watch.WithOnChange(func(roots []string) {
		select {
		case changed <- roots:
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Watch(paths...); err != nil {
		return err
	}

	h, err := scan.NewByteCodeHunter(cfg, scan.WithDefaultRefresh(w.Changed))
	if err != nil {
		return err
	}
	defer h.Close()

	run := func(ctx context.Context) error {
		r, err := h.Find(ctx, sc())
		if err != nil {
			return err
		}
		defer r.Close()
		show(c.App.Writer, r)
		st := h.Stats()
		fmt.Fprintf(os.Stderr, "-- %d traversals, %d cache hits\n", st.Traversals, st.CacheHits)
		return nil
	}

	if err := run(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case roots := <-changed:
			fmt.Fprintf(os.Stderr, "-- changed: %v\n", roots)
			if err := run(ctx); err != nil {
				return err
			}
		}
	}
}

// printItems writes one line per item; items arrive sorted by name
func printItems(w io.Writer, items []*scan.Item, root string) {
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\n", it.Name, pathutil.ToRelative(it.ClassPath, root))
	}
}
