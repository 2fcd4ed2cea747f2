package members

import (
	"github.com/standardbeagle/classhunter/internal/classfile"
	cherrors "github.com/standardbeagle/classhunter/internal/errors"
	"github.com/standardbeagle/classhunter/internal/loader"
)

var boxes = map[string]string{
	"boolean": "java.lang.Boolean",
	"byte":    "java.lang.Byte",
	"char":    "java.lang.Character",
	"short":   "java.lang.Short",
	"int":     "java.lang.Integer",
	"long":    "java.lang.Long",
	"float":   "java.lang.Float",
	"double":  "java.lang.Double",
}

// acceptsArguments reports whether a member with params can be invoked
// with arguments of the given types
func acceptsArguments(m *Member, params, args []string) bool {
	n := len(params)
	if !m.IsVarArgs() || n == 0 {
		if len(args) != n {
			return false
		}
		return allAssignable(m.Declaring, params, args)
	}

	if len(args) < n-1 {
		return false
	}
	if !allAssignable(m.Declaring, params[:n-1], args[:n-1]) {
		return false
	}
	last := params[n-1]
	if len(args) == n && assignable(m.Declaring, last, args[n-1]) {
		return true
	}
	elem, _ := classfile.ElementType(last)
	for _, a := range args[n-1:] {
		if !assignable(m.Declaring, elem, a) {
			return false
		}
	}
	return true
}

func allAssignable(ctx *loader.Class, params, args []string) bool {
	for i := range params {
		if !assignable(ctx, params[i], args[i]) {
			return false
		}
	}
	return true
}

// assignable reports whether a value of type arg can be passed where param
// is expected. Reference types are resolved through the loader of ctx.
func assignable(ctx *loader.Class, param, arg string) bool {
	if param == arg {
		return true
	}
	if arg == "" {
		return !classfile.IsPrimitive(param)
	}
	if box, ok := boxes[param]; ok {
		return arg == box
	}
	if box, ok := boxes[arg]; ok {
		return assignable(ctx, param, box)
	}
	pe, pArr := classfile.ElementType(param)
	ae, aArr := classfile.ElementType(arg)
	switch {
	case pArr && aArr:
		if classfile.IsPrimitive(pe) || classfile.IsPrimitive(ae) {
			return pe == ae
		}
		return assignable(ctx, pe, ae)
	case aArr:
		return param == loader.RootType
	case pArr:
		return false
	}
	if param == loader.RootType {
		return true
	}

	pc, err := resolve(ctx, param)
	if err != nil {
		return false
	}
	ac, err := resolve(ctx, arg)
	if err != nil {
		return false
	}
	return pc.IsAssignableFrom(ac)
}

func resolve(ctx *loader.Class, name string) (*loader.Class, error) {
	if ctx == nil || ctx.Loader() == nil {
		return nil, cherrors.NewClassNotFoundError(name, "platform")
	}
	return ctx.Loader().LoadClass(name)
}
