package graph

import (
	"fmt"
	"strings"
)

var kindShape = map[string]string{
	"source": "invhouse",
	"filter": "box",
	"gather": "trapezium",
	"ymerge": "triangle",
}

// DOT renders the view as Graphviz source. Slots present in stopped are
// drawn dashed.
func (v View) DOT(name string, stopped map[int]bool) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "digraph %q {\n", name)
	buf.WriteString("  rankdir=LR;\n  node [fontsize=10, style=rounded];\n  edge [fontsize=9];\n")

	for _, n := range v.Nodes {
		shape, ok := kindShape[n.Kind]
		if !ok {
			shape = "ellipse"
		}
		style := ""
		if stopped[n.Slot] {
			style = `, style=dashed`
		}
		fmt.Fprintf(&buf, "  %q [shape=%s, label=\"%s\\n#%d %s\"%s];\n", n.Name, shape, n.Name, n.Slot, n.Rule, style)
	}
	for _, e := range v.Edges {
		fmt.Fprintf(&buf, "  %q -> %q [label=\"%d\"];\n", e.From.Task, e.To.Task, e.To.Index)
	}
	buf.WriteString("}\n")
	return buf.String()
}
