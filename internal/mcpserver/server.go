// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes replication tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/replicast/replicast/internal/models"
)

// Replicator triggers outbound replication for a local entity.
type Replicator interface {
	HandleSave(ctx context.Context, entity models.LocalEntity, user string) error
	HandleDelete(ctx context.Context, entity models.LocalEntity, user string) error
}

// SiteSource lists the configured replication targets.
type SiteSource interface {
	All() ([]models.RemoteSite, error)
}

// StatusSource reads an entity's replication state.
type StatusSource interface {
	Get(entity models.LocalEntity) (models.RemoteInfoMap, error)
	SelectedSites(entity models.LocalEntity) ([]int64, error)
	SetSelectedSites(entity models.LocalEntity, siteIDs []int64) error
}

// NoticeSource reads a user's pending replication notices.
type NoticeSource interface {
	Pending(user string) []models.Notice
}

// Server wraps the MCP server with replication tools.
type Server struct {
	mcp      *server.MCPServer
	engine   Replicator
	sites    SiteSource
	identity StatusSource
	notices  NoticeSource
}

// New creates a new MCP server with all replication tools registered.
func New(engine Replicator, sites SiteSource, identity StatusSource, notices NoticeSource) *Server {
	s := &Server{mcp: server.NewMCPServer(
		"Replicast",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	), engine: engine, sites: sites, identity: identity, notices: notices}

	s.mcp.AddTool(mcp.NewTool("list_sites",
		mcp.WithDescription("List the configured replication target sites."),
	), s.listSites)

	s.mcp.AddTool(mcp.NewTool("replication_status",
		mcp.WithDescription("Show the per-site replication state of a local object: "+
			"which sites are selected and which remote ids and statuses are recorded."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Object kind: post, page, attachment or term")),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Local object id")),
	), s.replicationStatus)

	s.mcp.AddTool(mcp.NewTool("replicate_object",
		mcp.WithDescription("Replicate a local object to its selected sites now. "+
			"Optionally replaces the site selection first."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Object kind: post, page, attachment or term")),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Local object id")),
		mcp.WithString("sites", mcp.Description("Optional comma-separated site ids to replace the selection with")),
	), s.replicateObject)

	s.mcp.AddTool(mcp.NewTool("delete_replicas",
		mcp.WithDescription("Permanently delete an object's remote copies and clear its mappings."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Object kind: post, page, attachment or term")),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Local object id")),
	), s.deleteReplicas)

	s.mcp.AddTool(mcp.NewTool("pending_notices",
		mcp.WithDescription("List the pending replication notices for a user without clearing them."),
		mcp.WithString("user", mcp.Description("User the notices were recorded for (empty for the system user)")),
	), s.pendingNotices)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func entityFor(kind string, id int64) (models.LocalEntity, error) {
	switch models.Kind(kind) {
	case models.KindPost, models.KindPage:
		return models.Post{ObjectID: id, Kind: models.Kind(kind)}, nil
	case models.KindAttachment:
		return models.Media{ObjectID: id}, nil
	case models.KindTerm:
		return models.Term{ObjectID: id}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

func requestedEntity(req mcp.CallToolRequest) (models.LocalEntity, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return nil, err
	}
	id, err := req.RequireInt("id")
	if err != nil {
		return nil, err
	}
	return entityFor(kind, int64(id))
}

func (s *Server) listSites(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sites, err := s.sites.All()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(sites, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) replicationStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entity, err := requestedEntity(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	infos, err := s.identity.Get(entity)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	selected, err := s.identity.SelectedSites(entity)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, _ := json.MarshalIndent(map[string]any{
		"selected_sites": selected,
		"remote_info":    infos,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) replicateObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entity, err := requestedEntity(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if raw := req.GetString("sites", ""); raw != "" {
		ids, err := parseSiteList(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.identity.SetSelectedSites(entity, ids); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	if err := s.engine.HandleSave(ctx, entity, "mcp"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("replicated %s %d", entity.Type(), entity.ID())), nil
}

func (s *Server) deleteReplicas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entity, err := requestedEntity(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.engine.HandleDelete(ctx, entity, "mcp"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted replicas of %s %d", entity.Type(), entity.ID())), nil
}

func (s *Server) pendingNotices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user := req.GetString("user", "")
	pending := s.notices.Pending(user)
	if len(pending) == 0 {
		return mcp.NewToolResultText("no pending notices"), nil
	}
	out, _ := json.MarshalIndent(pending, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func parseSiteList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(part, "%d", &id); err != nil || id <= 0 {
			return nil, fmt.Errorf("bad site id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
