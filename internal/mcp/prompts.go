package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// investigate-profile: guardian first, then hot frames, then the tree.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("investigate-profile",
			mcplib.WithPromptDescription("Walk through the analysis of one recording"),
			mcplib.WithArgument("profile_id",
				mcplib.ArgumentDescription("Recording to investigate (see kenbi_profiles)"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleInvestigatePrompt,
	)

	// compare-profiles: explain a regression between two recordings.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("compare-profiles",
			mcplib.WithPromptDescription("Explain what changed between a baseline and a new recording"),
			mcplib.WithArgument("primary_id",
				mcplib.ArgumentDescription("Recording after the change"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("secondary_id",
				mcplib.ArgumentDescription("Baseline recording"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleComparePrompt,
	)
}

func (s *Server) handleInvestigatePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	id := request.Params.Arguments["profile_id"]
	if id == "" {
		return nil, fmt.Errorf("profile_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Investigate recording %s", id),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Investigate the performance of recording %s:

1. CALL kenbi_guardian with profile_id="%s".
   Report every WARNING with its solution. INFO findings are context.

2. CALL kenbi_hot_frames with profile_id="%s" to see where CPU time goes.
   If the recording has allocation events, call it again with
   event_type="jdk.ObjectAllocationSample" and use_weight=true.

3. For a hot frame whose callers matter, CALL kenbi_flamegraph with a small
   max_depth and read the path down to that frame.

4. SUMMARIZE: the top problems, the evidence (frames and percentages), and
   concrete next steps. Do not guess beyond what the data shows.`, id, id, id),
				},
			},
		},
	}, nil
}

func (s *Server) handleComparePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	primary := request.Params.Arguments["primary_id"]
	secondary := request.Params.Arguments["secondary_id"]
	if primary == "" || secondary == "" {
		return nil, fmt.Errorf("primary_id and secondary_id arguments are required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Compare recording %s against baseline %s", primary, secondary),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Explain what changed between baseline %[2]s and recording %[1]s:

1. CALL kenbi_diff with primary_id="%[1]s" and secondary_id="%[2]s".
   Positive self_delta means the frame got hotter after the change.

2. CALL kenbi_guardian on both recordings and note findings that appear
   only in %[1]s.

3. SUMMARIZE the regressions and improvements, largest first, with the
   frame paths that explain them.`, primary, secondary),
				},
			},
		},
	}, nil
}
