package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"canvas/internal/app"
	"canvas/internal/domain"
	"canvas/internal/service"
)

// ─────────────────────────────────────────────────────────────
// layout
// ─────────────────────────────────────────────────────────────

func newLayoutCmd() *cobra.Command {
	var direction string
	cmd := &cobra.Command{
		Use:   "layout <canvasId>",
		Short: "Lay out a stored canvas and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := domain.Direction(strings.ToUpper(direction))
			if !dir.Valid() {
				return fmt.Errorf("invalid direction %q: want TB or LR", direction)
			}
			return runLayout(cmd.Context(), args[0], dir, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", string(domain.DirectionLR), "graph direction: TB or LR")
	return cmd
}

func runLayout(ctx context.Context, canvasID string, dir domain.Direction, w io.Writer) error {
	a, _, err := openApp(ctx, configFromContext(ctx), app.OfflineSource{}, nil)
	if err != nil {
		return err
	}
	defer closeApp(ctx, a)

	svc, err := a.Canvas(ctx, canvasID)
	if err != nil {
		return err
	}
	if len(svc.Store().Nodes()) == 0 {
		printWarning(w, "canvas %s has no nodes", canvasID)
		return nil
	}
	report, err := svc.OnLayout(ctx, dir)
	if err != nil {
		return err
	}
	printSuccess(w, "laid out %s %s", StyleTitle.Render(canvasID), StyleDim.Render(string(dir)))
	printDetail(w, "%d overlap moves in %d iterations", report.Moves, report.Iterations)
	if !report.Converged {
		printWarning(w, "overlaps remain after %d iterations", report.Iterations)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────
// inspect
// ─────────────────────────────────────────────────────────────

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [canvasId]",
		Short: "List stored canvases, or describe one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := openApp(ctx, configFromContext(ctx), app.OfflineSource{}, nil)
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)
			if len(args) == 0 {
				return listCanvases(ctx, a, cmd.OutOrStdout())
			}
			return describeCanvas(ctx, a, args[0], cmd.OutOrStdout())
		},
	}
}

func listCanvases(ctx context.Context, a *app.App, w io.Writer) error {
	records, err := a.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		printInfo(w, "no canvases stored")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		updated := ""
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			r.ID, r.Title, strconv.Itoa(r.NodeCount), strconv.Itoa(r.EdgeCount), updated,
		})
	}
	printTable(w, []string{"ID", "TITLE", "NODES", "EDGES", "UPDATED"}, rows)
	return nil
}

func describeCanvas(ctx context.Context, a *app.App, canvasID string, w io.Writer) error {
	svc, err := a.Canvas(ctx, canvasID)
	if err != nil {
		return err
	}
	doc := svc.Store().Document()

	fmt.Fprintln(w, StyleTitle.Render(canvasID))
	title := doc.Title
	if title == "" {
		title = StyleDim.Render("(untitled)")
	}
	printKeyValue(w, "title", title)
	printKeyValue(w, "nodes", StyleNumber.Render(strconv.Itoa(len(doc.Nodes))))
	printKeyValue(w, "edges", StyleNumber.Render(strconv.Itoa(len(doc.Edges))))

	byType := map[domain.NodeType]int{}
	groups := 0
	for _, n := range doc.Nodes {
		byType[n.Type]++
		if n.Type == domain.NodeTypeGroup {
			groups++
		}
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		printDetail(w, "%-14s %d", t, byType[domain.NodeType(t)])
	}
	if groups > 0 {
		printKeyValue(w, "groups", StyleNumber.Render(strconv.Itoa(groups)))
	}
	if dangling := danglingEdges(doc); dangling > 0 {
		printWarning(w, "%d edges reference missing nodes", dangling)
	}
	return nil
}

func danglingEdges(doc domain.Document) int {
	ids := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		ids[n.ID] = true
	}
	n := 0
	for _, e := range doc.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			n++
		}
	}
	return n
}

// ─────────────────────────────────────────────────────────────
// import
// ─────────────────────────────────────────────────────────────

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>...",
		Short: "Merge JSON documents into stored canvases",
		Long: `Merge each document into the canvas named after its file: research.json
imports into canvas "research". Nodes whose id already exists are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args, cmd.OutOrStdout())
		},
	}
}

func runImport(ctx context.Context, files []string, w io.Writer) error {
	logger := loggerFromContext(ctx)
	a, _, err := openApp(ctx, configFromContext(ctx), app.OfflineSource{}, nil)
	if err != nil {
		return err
	}
	defer closeApp(ctx, a)

	maint := service.NewMaintenanceService(service.MaintenanceConfig{}, nil, nil, a.Import, nil, logger)
	failed := 0
	for _, f := range files {
		if err := maint.ImportFile(ctx, f); err != nil {
			printError(w, "%s: %v", f, err)
			failed++
			continue
		}
		printSuccess(w, "imported %s into %s", f, StyleTitle.Render(service.CanvasIDFromPath(f)))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(files))
	}
	return nil
}
