package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/classhunter/internal/classfile"
	"github.com/standardbeagle/classhunter/internal/scan"
)

func bytesCommand() *cli.Command {
	return &cli.Command{
		Name:      "bytes",
		Aliases:   []string{"b"},
		Usage:     "Show the class file header of classes found below paths",
		ArgsUsage: "[paths...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "class", Aliases: []string{"C"}, Usage: "Binary class name", Required: true},
			&cli.BoolFlag{Name: "raw", Usage: "Write the class file content instead of its header"},
		},
		Action: bytesAction,
	}
}

func bytesAction(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	paths, err := searchPaths(c, cfg)
	if err != nil {
		return err
	}

	h, err := scan.NewByteCodeHunter(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	names := c.StringSlice("class")
	r, err := h.Find(c.Context, scan.NewSearchConfig(paths...).By(scan.ClassNamed(names...)))
	if err != nil {
		return err
	}
	defer r.Close()

	items := r.Items()
	if len(items) == 0 {
		return fmt.Errorf("no class file for %s", strings.Join(names, ", "))
	}
	for _, it := range items {
		if c.Bool("raw") {
			if _, err := c.App.Writer.Write(it.Bytes()); err != nil {
				return err
			}
			continue
		}
		d, err := it.Descriptor()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s (%d bytes)\n", it.Path, len(it.Bytes()))
		writeHeader(c.App.Writer, d)
	}
	return nil
}

func writeHeader(w io.Writer, d *classfile.Descriptor) {
	kind := "class"
	if d.IsInterface() {
		kind = "interface"
	}
	fmt.Fprintf(w, "  %s %s\n", kind, d.Name)
	fmt.Fprintf(w, "  access 0x%04x\n", d.Access)
	if d.SuperName != "" {
		fmt.Fprintf(w, "  extends %s\n", d.SuperName)
	}
	if len(d.Interfaces) > 0 {
		fmt.Fprintf(w, "  implements %s\n", strings.Join(d.Interfaces, ", "))
	}
	for _, f := range d.Fields {
		fmt.Fprintf(w, "  field %s %s\n", f.Type(), f.Name)
	}
	for _, m := range d.Methods {
		fmt.Fprintf(w, "  %s %s(%s) %s\n", m.Kind, m.Name, strings.Join(m.ParamTypes(), ", "), m.Type())
	}
}
