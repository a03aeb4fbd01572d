package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("research_map",
		mcp.WithPromptDescription("Build a research map: sources, the skill run that reads them, and its responses"),
		mcp.WithArgument("topic",
			mcp.ArgumentDescription("Topic of the research"),
			mcp.RequiredArgument(),
		),
	), s.handleResearchMapPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("tidy_canvas",
		mcp.WithPromptDescription("Group related nodes and lay the canvas out cleanly"),
	), s.handleTidyPrompt)
}

func (s *Server) handleResearchMapPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	topic := req.Params.Arguments["topic"]
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	text := fmt.Sprintf(`Build a research map about %q on the active canvas.

1. Add one "resource" or "document" node per source with add_node. Give each a stable entityId.
2. Add a "skill" node for the analysis, with connectTo listing every source.
3. Add "skillResponse" nodes for findings, with connectTo pointing at the skill node.
4. Group the sources with group_nodes and title the group "Sources".
5. Finish with layout_canvas direction LR.

Re-running add_node with the same type and entityId reuses the existing node, so it is safe to retry.`, topic)
	return mcp.NewGetPromptResult("Research map", []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
	}), nil
}

func (s *Server) handleTidyPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	text := `Tidy the active canvas.

1. Call list_nodes and look for nodes that belong together: same source, same skill run, same topic.
2. Group each set with group_nodes and a short title, then call layout_group on it.
3. Call layout_canvas. If the result reports converged=false, call it once more.
4. Use export_dot to check the structure reads well.`
	return mcp.NewGetPromptResult("Tidy canvas", []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
	}), nil
}
