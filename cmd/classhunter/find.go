package main

import (
	"fmt"
	"sort"

	"github.com/hbollon/go-edlib"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/classhunter/internal/classfile"
	"github.com/standardbeagle/classhunter/internal/scan"
)

const (
	suggestionThreshold = 0.8
	maxSuggestions      = 5
)

func findCommand() *cli.Command {
	return &cli.Command{
		Name:      "find",
		Aliases:   []string{"f"},
		Usage:     "Find classes matching criteria below paths",
		ArgsUsage: "[paths...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Simple class name"},
			&cli.StringFlag{Name: "glob", Aliases: []string{"g"}, Usage: "Binary name glob (e.g., 'com.acme.**.*Service')"},
			&cli.StringSliceFlag{Name: "package", Usage: "Declaring package"},
			&cli.StringFlag{Name: "extends", Usage: "Direct superclass"},
			&cli.StringFlag{Name: "implements", Usage: "Directly implemented interface"},
			&cli.StringFlag{Name: "assignable-to", Aliases: []string{"a"}, Usage: "Class or interface the matches can be assigned to"},
			&cli.StringFlag{Name: "declares", Usage: "Name of a declared method"},
			&cli.BoolFlag{Name: "interfaces", Usage: "Only interfaces"},
		},
		Action: findAction,
	}
}

func findCriteria(c *cli.Context) *scan.ClassCriteria {
	var crit *scan.ClassCriteria
	add := func(x *scan.ClassCriteria) {
		if crit == nil {
			crit = x
			return
		}
		crit = crit.And(x)
	}
	if v := c.String("name"); v != "" {
		add(scan.SimpleNamed(v))
	}
	if v := c.String("glob"); v != "" {
		add(scan.ClassNameMatches(v))
	}
	if v := c.StringSlice("package"); len(v) > 0 {
		add(scan.InPackage(v...))
	}
	if v := c.String("extends"); v != "" {
		add(scan.DirectlyExtends(v))
	}
	if v := c.String("implements"); v != "" {
		add(scan.DirectlyImplements(v))
	}
	if v := c.String("declares"); v != "" {
		add(scan.DeclaresMethod(v))
	}
	if c.Bool("interfaces") {
		add(scan.Interfaces())
	}
	if v := c.String("assignable-to"); v != "" {
		add(scan.AssignableTo(v))
	}
	return crit
}

func findAction(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	paths, err := searchPaths(c, cfg)
	if err != nil {
		return err
	}

	h, err := scan.NewClassHunter(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	sc := scan.NewSearchConfig(paths...)
	if crit := findCriteria(c); crit != nil {
		sc = sc.By(crit)
	}
	r, err := h.Find(c.Context, sc)
	if err != nil {
		return err
	}
	defer r.Close()

	items := r.Items()
	if len(items) > 0 {
		printItems(c.App.Writer, items, displayRoot(c))
		return nil
	}
	name := c.String("name")
	if name == "" {
		return fmt.Errorf("no class matches")
	}

	all, err := h.Find(c.Context, scan.NewSearchConfig(paths...))
	if err != nil {
		return err
	}
	defer all.Close()
	if hints := suggest(name, all.Items()); len(hints) > 0 {
		return fmt.Errorf("no class named %s, did you mean: %v", name, hints)
	}
	return fmt.Errorf("no class named %s", name)
}

// suggest returns the binary names of items whose simple name is close to
// name, best first
func suggest(name string, items []*scan.Item) []string {
	type scored struct {
		name  string
		score float32
	}
	var hits []scored
	for _, it := range items {
		score, err := edlib.StringsSimilarity(name, classfile.SimpleName(it.Name), edlib.JaroWinkler)
		if err != nil || score < suggestionThreshold {
			continue
		}
		hits = append(hits, scored{it.Name, score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].name < hits[j].name
	})
	out := make([]string, 0, maxSuggestions)
	for _, h := range hits {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, h.name)
	}
	return out
}
