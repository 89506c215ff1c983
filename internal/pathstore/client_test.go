package pathstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/callgest/internal/results"
)

type fakeServer struct {
	mu    sync.Mutex
	calls []string
	nodes map[string]json.RawMessage
	links []LinkRequest
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{nodes: make(map[string]json.RawMessage)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.calls = append(fs.calls, r.Method+" "+r.URL.Path)

		switch {
		case r.URL.Path == "/links":
			var lr LinkRequest
			json.NewDecoder(r.Body).Decode(&lr)
			fs.links = append(fs.links, lr)
		case r.Method == http.MethodPut:
			var nr struct {
				Value json.RawMessage `json:"value"`
			}
			json.NewDecoder(r.Body).Decode(&nr)
			fs.nodes[strings.TrimPrefix(r.URL.Path, "/kv/")] = nr.Value
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete:
			key := strings.TrimPrefix(r.URL.Path, "/kv/")
			if _, ok := fs.nodes[key]; !ok && r.URL.Query().Get("children") != "true" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(fs.nodes, key)
			if r.URL.Query().Get("children") == "true" {
				for k := range fs.nodes {
					if strings.HasPrefix(k, key+"/") {
						delete(fs.nodes, k)
					}
				}
			}
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/*"):
			prefix := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/kv/"), "*")
			nodes := []map[string]any{}
			for k, v := range fs.nodes {
				if strings.HasPrefix(k, prefix) {
					nodes = append(nodes, map[string]any{"key_path": k, "value": v})
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
		case r.Method == http.MethodGet:
			key := strings.TrimPrefix(r.URL.Path, "/kv/")
			v, ok := fs.nodes[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"key_path": key, "value": v})
		}
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func TestWriteRows(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := NewClient(srv.URL, "key")

	rows := []results.Row{
		{Filename: "AAPL_Q1_2024", BlockIndex: 1, SpeakerRole: "CEO", Text: "Hello"},
		{Filename: "AAPL_Q1_2024", BlockIndex: 2, SpeakerRole: "ANALYST", Text: "Question"},
		{Filename: "AAPL_Q1_2024", Error: "ReadError: skipped"},
	}
	m := TranscriptMeta{ID: "t1", Filename: "AAPL_Q1_2024", Ticker: "AAPL", Quarter: "Q1", Year: "2024", Blocks: 2}
	if err := c.WriteRows(context.Background(), "earnings/", m, rows); err != nil {
		t.Fatalf("write rows: %v", err)
	}

	if fs.calls[0] != "DELETE /kv/earnings/transcripts/t1" {
		t.Errorf("expected clear first, got %q", fs.calls[0])
	}
	for _, key := range []string{
		"earnings/transcripts/t1/meta",
		"earnings/transcripts/t1/blocks/1",
		"earnings/transcripts/t1/blocks/2",
	} {
		if _, ok := fs.nodes[key]; !ok {
			t.Errorf("expected node %s to be written", key)
		}
	}
	if len(fs.nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(fs.nodes))
	}
	if len(fs.links) != 1 || fs.links[0].From != "earnings/tickers/aapl" {
		t.Errorf("unexpected links %+v", fs.links)
	}

	node, err := c.GetNode(context.Background(), "earnings/transcripts/t1/blocks/2")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if node == nil {
		t.Fatal("expected node")
	}
}

func TestWriteRowsWithoutTickerSkipsLink(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := NewClient(srv.URL, "key")
	if err := c.WriteRows(context.Background(), "p", TranscriptMeta{ID: "x"}, nil); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if len(fs.links) != 0 {
		t.Errorf("expected no links, got %d", len(fs.links))
	}
}

func TestGetNodeMissing(t *testing.T) {
	_, srv := newFakeServer(t)
	c := NewClient(srv.URL, "key")
	node, err := c.GetNode(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node != nil {
		t.Errorf("expected nil node, got %+v", node)
	}
}

func TestUnauthorized(t *testing.T) {
	_, srv := newFakeServer(t)
	c := NewClient(srv.URL, "wrong")
	err := c.PutNode(context.Background(), "k", NodeRequest{Value: 1})
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func cleanRows() []results.Row {
	return []results.Row{
		{Filename: "AAPL_Q1_2024", BlockIndex: 2, SpeakerRole: "ANALYST", Text: "Question", Revenue: "Neutral"},
		{Filename: "AAPL_Q1_2024", BlockIndex: 1, SpeakerRole: "CEO", Text: "Hello", Revenue: "Positive"},
	}
}

func TestFindByHashAndTranscriptRows(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := NewClient(srv.URL, "key")
	ctx := context.Background()

	m := TranscriptMeta{ID: "t1", Filename: "AAPL_Q1_2024", ContentHash: "h1", Blocks: 2}
	if err := c.WriteRows(ctx, "earnings", m, cleanRows()); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if _, ok := fs.nodes["earnings/hashes/h1"]; !ok {
		t.Fatal("expected hash index node")
	}

	found, err := c.FindByHash(ctx, "earnings", "h1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != "t1" || found.Blocks != 2 {
		t.Fatalf("unexpected meta %+v", found)
	}

	missing, err := c.FindByHash(ctx, "earnings", "other")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown hash, got %+v", missing)
	}

	rows, err := c.TranscriptRows(ctx, "earnings", "t1")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].BlockIndex != 1 || rows[0].SpeakerRole != "CEO" || rows[1].Revenue != "Neutral" {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestWriteRowsWithFailuresDropsHashIndex(t *testing.T) {
	fs, srv := newFakeServer(t)
	c := NewClient(srv.URL, "key")
	ctx := context.Background()

	m := TranscriptMeta{ID: "t1", ContentHash: "h1"}
	if err := c.WriteRows(ctx, "earnings", m, cleanRows()); err != nil {
		t.Fatalf("first write: %v", err)
	}

	failed := cleanRows()
	failed[0].Error = "APICallError: 401 unauthorized"
	m.ID = "t2"
	if err := c.WriteRows(ctx, "earnings", m, failed); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if _, ok := fs.nodes["earnings/hashes/h1"]; ok {
		t.Error("expected hash index removed after a failed classification")
	}
	found, err := c.FindByHash(ctx, "earnings", "h1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found != nil {
		t.Errorf("expected no dedup match, got %+v", found)
	}
}

func TestDeleteNodeMissingIsNotAnError(t *testing.T) {
	_, srv := newFakeServer(t)
	c := NewClient(srv.URL, "key")
	if err := c.DeleteNode(context.Background(), "nope", false); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
