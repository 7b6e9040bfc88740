package exhaustivekind

import (
	"go/ast"
	"go/constant"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "exhaustivekind",
	Doc:  "checks that switches over a tagged-variant kind list every kind",
	Run:  run,
}

// kindTypes are the variant tags whose switches must be exhaustive. A
// default clause does not excuse a missing case.
var kindTypes = map[string]bool{
	"ContentKind": true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			sw, ok := n.(*ast.SwitchStmt)
			if !ok || sw.Tag == nil {
				return true
			}

			named, ok := pass.TypesInfo.TypeOf(sw.Tag).(*types.Named)
			if !ok || !kindTypes[named.Obj().Name()] {
				return true
			}

			covered := make(map[string]bool)
			for _, stmt := range sw.Body.List {
				clause, ok := stmt.(*ast.CaseClause)
				if !ok {
					continue
				}
				for _, expr := range clause.List {
					if tv, ok := pass.TypesInfo.Types[expr]; ok && tv.Value != nil {
						covered[tv.Value.ExactString()] = true
					}
				}
			}

			var missing []string
			for _, c := range constantsOf(named) {
				if !covered[c.Val().ExactString()] {
					missing = append(missing, c.Name())
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				pass.Reportf(sw.Pos(), "switch on %s is missing cases: %s",
					named.Obj().Name(), strings.Join(missing, ", "))
			}
			return true
		})
	}
	return nil, nil
}

// constantsOf returns the package-level constants declared with type named.
func constantsOf(named *types.Named) []*types.Const {
	pkg := named.Obj().Pkg()
	if pkg == nil {
		return nil
	}
	var out []*types.Const
	scope := pkg.Scope()
	for _, name := range scope.Names() {
		c, ok := scope.Lookup(name).(*types.Const)
		if !ok || !types.Identical(c.Type(), named) {
			continue
		}
		if c.Val().Kind() == constant.Unknown {
			continue
		}
		out = append(out, c)
	}
	return out
}
