// Package render exports a canvas as a Graphviz diagram.
//
// Groups become clusters, so the diagram keeps the canvas hierarchy. The
// DOT text can be fed to any Graphviz tool; RenderSVG renders it in-process
// through the WebAssembly build of Graphviz.
package render

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"canvas/internal/domain"
)

type Options struct {
	// Direction maps to rankdir; empty means top to bottom.
	Direction domain.Direction
	// Detailed adds the node type and entity id to labels.
	Detailed bool
}

// ToDOT converts a document to Graphviz DOT. Nodes are emitted in document
// order inside the cluster of their group; edges with a missing endpoint are
// skipped.
func ToDOT(doc domain.Document, opts Options) string {
	rankdir := "TB"
	if opts.Direction == domain.DirectionLR {
		rankdir = "LR"
	}

	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	fmt.Fprintf(&buf, "  rankdir=%s;\n", rankdir)
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  compound=true;\n")
	if doc.Title != "" {
		fmt.Fprintf(&buf, "  label=%q;\n  labelloc=t;\n", doc.Title)
	}
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("\n")

	children := make(map[string][]domain.Node)
	ids := make(map[string]struct{}, len(doc.Nodes))
	for _, n := range doc.Nodes {
		ids[n.ID] = struct{}{}
	}
	for _, n := range doc.Nodes {
		parent := n.ParentID
		if _, ok := ids[parent]; !ok {
			parent = ""
		}
		children[parent] = append(children[parent], n)
	}
	writeLevel(&buf, children, "", 1, opts, make(map[string]bool))

	buf.WriteString("\n")
	for _, e := range doc.Edges {
		_, okS := ids[e.Source]
		_, okT := ids[e.Target]
		if !okS || !okT {
			continue
		}
		src, dst := e.Source, e.Target
		var attrs []string
		// graphviz cannot connect clusters directly; anchor on the
		// cluster's invisible point instead
		if isGroup(doc.Nodes, src) {
			attrs = append(attrs, fmt.Sprintf("ltail=%q", clusterName(src)))
			src = anchorName(src)
		}
		if isGroup(doc.Nodes, dst) {
			attrs = append(attrs, fmt.Sprintf("lhead=%q", clusterName(dst)))
			dst = anchorName(dst)
		}
		if len(attrs) > 0 {
			fmt.Fprintf(&buf, "  %q -> %q [%s];\n", src, dst, strings.Join(attrs, ", "))
		} else {
			fmt.Fprintf(&buf, "  %q -> %q;\n", src, dst)
		}
	}
	buf.WriteString("}\n")
	return buf.String()
}

func writeLevel(buf *bytes.Buffer, children map[string][]domain.Node, parent string, depth int, opts Options, seen map[string]bool) {
	indent := strings.Repeat("  ", depth)
	for _, n := range children[parent] {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		if n.IsGroup() {
			fmt.Fprintf(buf, "%ssubgraph %q {\n", indent, clusterName(n.ID))
			fmt.Fprintf(buf, "%s  label=%q;\n", indent, label(n, opts.Detailed))
			fmt.Fprintf(buf, "%s  style=\"rounded,dashed\";\n", indent)
			fmt.Fprintf(buf, "%s  %q [shape=point, style=invis];\n", indent, anchorName(n.ID))
			writeLevel(buf, children, n.ID, depth+1, opts, seen)
			fmt.Fprintf(buf, "%s}\n", indent)
			continue
		}
		fmt.Fprintf(buf, "%s%q [label=%q];\n", indent, n.ID, label(n, opts.Detailed))
	}
}

func label(n domain.Node, detailed bool) string {
	title := n.Data.Title
	if title == "" {
		title = n.ID
	}
	if !detailed {
		return title
	}
	parts := []string{title, "type: " + string(n.Type)}
	if n.Data.EntityID != "" {
		parts = append(parts, "entity: "+n.Data.EntityID)
	}
	return strings.Join(parts, "\n")
}

func isGroup(nodes []domain.Node, id string) bool {
	i := domain.FindNode(nodes, id)
	return i >= 0 && nodes[i].IsGroup()
}

func clusterName(id string) string { return "cluster_" + id }
func anchorName(id string) string  { return id + "__anchor" }

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox rewrites the root tag so the SVG scales from its origin.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}
	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}
	root := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`, w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(root))
}
