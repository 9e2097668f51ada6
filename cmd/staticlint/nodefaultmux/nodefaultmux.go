// Package nodefaultmux defines an analyzer that forbids registering handlers
// on http.DefaultServeMux and serving it implicitly.
package nodefaultmux

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer reports http.Handle, http.HandleFunc and http.ListenAndServe or
// http.ListenAndServeTLS called with a nil handler. Any package linked into
// the binary can add routes to the default mux, including /debug/pprof.
var Analyzer = &analysis.Analyzer{
	Name:     "nodefaultmux",
	Doc:      "prohibits use of http.DefaultServeMux",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

const netHTTP = "net/http"

// handlerArg is the position of the handler argument of the serving functions.
var handlerArg = map[string]int{
	"ListenAndServe":    1,
	"ListenAndServeTLS": 3,
	"Serve":             1,
	"ServeTLS":          1,
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	insp.Preorder([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node) {
		call := n.(*ast.CallExpr)

		fn := calledFunc(pass, call)
		if fn == nil || fn.Pkg() == nil || fn.Pkg().Path() != netHTTP {
			return
		}
		if sig, ok := fn.Type().(*types.Signature); !ok || sig.Recv() != nil {
			return
		}

		switch name := fn.Name(); name {
		case "Handle", "HandleFunc":
			pass.Reportf(call.Pos(), "http.%s registers on http.DefaultServeMux, use a dedicated router", name)
		default:
			idx, ok := handlerArg[name]
			if !ok || idx >= len(call.Args) {
				return
			}
			if isNil(pass, call.Args[idx]) {
				pass.Reportf(call.Pos(), "http.%s with a nil handler serves http.DefaultServeMux", name)
			}
		}
	})

	return nil, nil
}

func calledFunc(pass *analysis.Pass, call *ast.CallExpr) *types.Func {
	var id *ast.Ident
	switch fun := call.Fun.(type) {
	case *ast.SelectorExpr:
		id = fun.Sel
	case *ast.Ident:
		id = fun
	default:
		return nil
	}

	fn, _ := pass.TypesInfo.Uses[id].(*types.Func)
	return fn
}

func isNil(pass *analysis.Pass, expr ast.Expr) bool {
	tv, ok := pass.TypesInfo.Types[expr]
	return ok && tv.IsNil()
}
