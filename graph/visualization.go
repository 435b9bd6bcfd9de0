package graph

import (
	"fmt"
	"strings"
)

// Mermaid renders the compiled graph as a Mermaid flowchart, handy for
// embedding in documentation. Conditional edges are drawn dashed,
// interrupt nodes get a distinct shape, and End is a terminal circle.
func (cg *CompiledGraph) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString("    __start__((start))\n")
	b.WriteString("    __end__((end))\n")

	for i, name := range cg.names {
		n := cg.nodes[i]
		switch {
		case n.interrupt:
			fmt.Fprintf(&b, "    %s{{%s}}\n", mermaidID(name), name)
		default:
			fmt.Fprintf(&b, "    %s[%s]\n", mermaidID(name), name)
		}
	}

	fmt.Fprintf(&b, "    __start__ --> %s\n", mermaidID(cg.names[cg.entry]))

	for i, name := range cg.names {
		src := mermaidID(name)
		if ce := cg.conds[i]; ce != nil {
			for _, cand := range ce.candidates {
				if cand == End {
					fmt.Fprintf(&b, "    %s -.-> __end__\n", src)
					continue
				}
				fmt.Fprintf(&b, "    %s -.-> %s\n", src, mermaidID(cand))
			}
			continue
		}
		for _, t := range cg.static[i] {
			if t == endIndex {
				fmt.Fprintf(&b, "    %s --> __end__\n", src)
				continue
			}
			fmt.Fprintf(&b, "    %s --> %s\n", src, mermaidID(cg.names[t]))
		}
	}
	return b.String()
}

// mermaidID sanitizes a node name into a Mermaid-safe identifier.
func mermaidID(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
