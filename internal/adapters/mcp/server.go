package mcpadapter

import (
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docvault/internal/core/ports"
)

// Services are the inbound ports reachable through MCP tools.
type Services struct {
	Queue     ports.QueueReader
	Processor ports.QueueProcessor
	Sweeper   ports.QueueSweeper
	Entities  ports.EntityService
}

// Options configure tool handlers. Every tool acts as UserID.
type Options struct {
	UserID         string
	ProcessTimeout time.Duration
	Logger         *slog.Logger
}

type toolEntry struct {
	name    string
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = []toolEntry{
	{
		name: "queue_list",
		def:  mcp.NewTool("queue_list",
			mcp.WithDescription("List the ingestion queue, newest first, optionally filtered by status."),
			mcp.WithArray("status",
				mcp.Description("Statuses to include: aguardando, processando, finalizado, erro, duplicata_aguardando."),
				mcp.WithStringItems(),
			),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleQueueList },
	},
	{
		name: "queue_get",
		def:  mcp.NewTool("queue_get",
			mcp.WithDescription("Fetch one queue row including its extracted data."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Queue row id.")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleQueueGet },
	},
	{
		name: "queue_process",
		def:  mcp.NewTool("queue_process",
			mcp.WithDescription("Run text extraction and entity reconciliation for one queue row."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Queue row id.")),
			mcp.WithBoolean("manual", mcp.Description("Also allow rows waiting as duplicates.")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleQueueProcess },
	},
	{
		name: "queue_health_sweep",
		def:  mcp.NewTool("queue_health_sweep",
			mcp.WithDescription("Requeue or fail rows stuck in processing past the liveness threshold."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHealthSweep },
	},
	{
		name: "entity_list",
		def:  mcp.NewTool("entity_list",
			mcp.WithDescription("List reconciled entities in display order, optionally for one entity type."),
			mcp.WithString("tipo_id", mcp.Description("Entity type id, for example pj, pf or im.")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEntityList },
	},
}

// ToolNames lists the registered tools in registration order.
func ToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for _, entry := range toolRegistry {
		names = append(names, entry.name)
	}
	return names
}

func NewServer(svc Services, opts Options, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"docvault",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	h := NewHandlers(svc, opts)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the tools over stdio until the client disconnects.
func Run(svc Services, opts Options, version string) error {
	return server.ServeStdio(NewServer(svc, opts, version))
}
