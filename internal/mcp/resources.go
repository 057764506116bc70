package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// kenbi://profiles: every stored recording.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kenbi://profiles",
			"Profiles",
			mcplib.WithResourceDescription("Recordings stored in kenbi, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleProfilesResource,
	)

	// kenbi://guards: names of the configured guardian rules.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kenbi://guards",
			"Guardian Rules",
			mcplib.WithResourceDescription("Names of the guardian rules run by kenbi_guardian"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleGuardsResource,
	)

	// kenbi://profile/{id}/guardian: guardian report of one recording.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"kenbi://profile/{id}/guardian",
			"Guardian Report",
			mcplib.WithTemplateDescription("Guardian findings for a specific recording"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleGuardianResource,
	)
}

func (s *Server) handleProfilesResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	profiles, err := s.svc.Profiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list profiles: %w", err)
	}
	out := make([]map[string]any, len(profiles))
	for i, p := range profiles {
		out[i] = compactProfile(p)
	}
	return jsonContents("kenbi://profiles", out)
}

func (s *Server) handleGuardsResource(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonContents("kenbi://guards", s.svc.Guards())
}

func (s *Server) handleGuardianResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, err := parseProfileURI(uri, "guardian")
	if err != nil {
		return nil, err
	}
	report, err := s.svc.Guardian(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: guardian of %s: %w", id, err)
	}
	return jsonContents(uri, compactGuardian(report, true))
}

// parseProfileURI extracts the profile id from kenbi://profile/{id}/{suffix}.
func parseProfileURI(uri, suffix string) (uuid.UUID, error) {
	const prefix = "kenbi://profile/"
	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, "/"+suffix) {
		return uuid.Nil, fmt.Errorf("mcp: invalid profile URI: %s", uri)
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(uri, prefix), "/"+suffix)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("mcp: invalid profile URI: empty profile id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid profile URI: %q is not a profile id", raw)
	}
	return id, nil
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
