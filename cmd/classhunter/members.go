package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/classhunter/internal/members"
	"github.com/standardbeagle/classhunter/internal/scan"
)

func membersCommand() *cli.Command {
	return &cli.Command{
		Name:      "members",
		Aliases:   []string{"m"},
		Usage:     "List the fields, methods or constructors of a class, including inherited ones",
		ArgsUsage: "[paths...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "class", Aliases: []string{"C"}, Usage: "Binary class name", Required: true},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "fields, methods or constructors", Value: "methods"},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Member name"},
			&cli.StringSliceFlag{Name: "arg", Usage: "Argument type the member must accept, repeat for each argument"},
			&cli.BoolFlag{Name: "no-args", Usage: "Only members that accept no arguments"},
		},
		Action: membersAction,
	}
}

func memberQuery(c *cli.Context) (*members.Query, error) {
	var q *members.Query
	switch c.String("kind") {
	case "fields", "field":
		q = members.Fields()
	case "methods", "method":
		q = members.Methods()
	case "constructors", "constructor":
		q = members.Constructors()
	default:
		return nil, fmt.Errorf("unknown member kind %q", c.String("kind"))
	}
	if v := c.String("name"); v != "" {
		q = q.Named(v)
	}
	if args := c.StringSlice("arg"); len(args) > 0 {
		q = q.WithArguments(args...)
	} else if c.Bool("no-args") {
		q = q.WithArguments()
	}
	return q, nil
}

func membersAction(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	paths, err := searchPaths(c, cfg)
	if err != nil {
		return err
	}
	q, err := memberQuery(c)
	if err != nil {
		return err
	}

	h, err := scan.NewClassHunter(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	name := c.String("class")
	r, err := h.Find(c.Context, scan.NewSearchConfig(paths...).By(scan.ClassNamed(name)))
	if err != nil {
		return err
	}
	defer r.Close()
	classes := r.Classes()
	if len(classes) == 0 {
		return fmt.Errorf("class %s not found below %v", name, paths)
	}

	resolver, err := members.NewResolver(cfg.Cache, nil)
	if err != nil {
		return err
	}
	found, err := resolver.FindAllAndMakeThemAccessible(classes[0], q)
	if err != nil {
		return err
	}
	for _, m := range found {
		fmt.Fprintf(c.App.Writer, "%s %s\n", m.Type(), m)
	}
	return nil
}
