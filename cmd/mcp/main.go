// Command mcp serves callgest's segmentation and metadata tools over MCP
// stdio. When DB_DSN is set it also exposes stored transcripts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dgallion1/callgest/internal/config"
	"github.com/dgallion1/callgest/internal/meta"
	"github.com/dgallion1/callgest/internal/segment"
	"github.com/dgallion1/callgest/internal/store"
)

const version = "0.1.0"

func main() {
	// stdout carries the protocol; logs go to stderr.
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var db *store.Store
	if cfg.DBDSN != "" {
		db, err = store.Open(context.Background(), cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	s := newServer(cfg, db)
	if err := server.ServeStdio(s); err != nil {
		log.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}

func newServer(cfg config.Config, db *store.Store) *server.MCPServer {
	s := server.NewMCPServer("callgest", version, server.WithToolCapabilities(false))
	t := tools{cfg: cfg, db: db}

	s.AddTool(mcp.NewTool("segment_transcript",
		mcp.WithDescription("Split an earnings-call transcript into ordered speaker blocks with normalised roles."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Full transcript text")),
		mcp.WithNumber("max_block_chars", mcp.Description("Per-block character cap; 0 uses the configured default, negative disables truncation")),
	), t.segment)

	s.AddTool(mcp.NewTool("extract_metadata",
		mcp.WithDescription("Derive ticker, quarter, year and date from a transcript filename."),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Transcript filename, with or without extension")),
	), t.metadata)

	if db != nil {
		s.AddTool(mcp.NewTool("list_transcripts",
			mcp.WithDescription("List stored transcripts, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of transcripts to return")),
		), t.listTranscripts)

		s.AddTool(mcp.NewTool("transcript_rows",
			mcp.WithDescription("Return the classified rows of one stored transcript."),
			mcp.WithString("transcript_id", mcp.Required(), mcp.Description("Stored transcript id")),
		), t.transcriptRows)
	}
	return s
}

type tools struct {
	cfg config.Config
	db  *store.Store
}

func (t tools) segment(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("max_block_chars", 0)
	if limit == 0 {
		limit = t.cfg.MaxBlockChars
	}
	return jsonResult(segment.Segment(text, limit))
}

func (t tools) metadata(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := req.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(meta.FromFilename(meta.StripExt(filename)))
}

func (t tools) listTranscripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := t.db.Transcripts(ctx, req.GetInt("limit", 50))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(list)
}

func (t tools) transcriptRows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("transcript_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := t.db.Rows(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("transcript %s not found", id)), nil
	}
	return jsonResult(rows)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
