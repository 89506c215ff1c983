package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgallion1/callgest/internal/config"
	"github.com/dgallion1/callgest/internal/pathstore"
	"github.com/dgallion1/callgest/internal/pipeline"
	"github.com/dgallion1/callgest/internal/results"
	"github.com/dgallion1/callgest/internal/sentiment"
	"github.com/dgallion1/callgest/internal/store"
)

const testKey = "test-key"

const sampleTranscript = `Presentation
--------------------------------------------------------------------------------
Tim Cook, Apple Inc. - CEO [1]
--------------------------------------------------------------------------------
Revenue grew strongly this quarter.
================================================================================
Questions and Answers
--------------------------------------------------------------------------------
Jane Doe, Big Bank - Analyst [2]
--------------------------------------------------------------------------------
What about margins?
`

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, text string) (sentiment.Scores, error) {
	s := sentiment.NeutralScores()
	if strings.Contains(text, "Revenue") {
		s.Revenue = sentiment.Positive
	}
	return s, nil
}

func (stubClassifier) Model() string { return "stub" }

type testEnv struct {
	srv   *httptest.Server
	orch  *pipeline.Orchestrator
	store *store.Store
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()
	return newTestEnvWithRemote(t, withStore, nil)
}

func newTestEnvWithRemote(t *testing.T, withStore bool, remote *pathstore.Client) *testEnv {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := config.Config{
		APIKey:                testKey,
		SentimentProvider:     "openai",
		OpenAIModel:           "gpt-test",
		MaxBlockChars:         8000,
		WorkerCount:           1,
		MaxQueueSize:          10,
		MaxConcurrentClassify: 2,
		MaxUploadBytes:        1 << 20,
		JobTTL:                time.Hour,
		PathstorePrefix:       "earnings",
	}

	env := &testEnv{}
	var ts pipeline.TranscriptStore
	if withStore {
		st, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		env.store = st
		ts = st
	}

	stats := sentiment.NewLLMStats(time.Hour)
	var sink pipeline.RowSink
	if remote != nil {
		sink = remote
	}
	env.orch = pipeline.NewOrchestrator(cfg, stubClassifier{}, ts, sink, log)
	env.orch.Start(context.Background())
	t.Cleanup(env.orch.Stop)

	env.srv = httptest.NewServer(NewServer(env.orch, env.store, remote, stats, log, cfg))
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func multipartBody(t *testing.T, field string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) submit(t *testing.T, filename, content string) string {
	t.Helper()
	body, ct := multipartBody(t, "file", map[string]string{filename: content})
	resp := e.do(t, http.MethodPost, "/api/transcripts", body, ct)
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, b)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	id, _ := out["job_id"].(string)
	if id == "" {
		t.Fatal("expected job_id in response")
	}
	return id
}

func (e *testEnv) wait(t *testing.T, jobID string) pipeline.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap := e.orch.GetJob(jobID).Snapshot(); snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return pipeline.JobSnapshot{}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, false)
	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, false)
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong key", "Bearer nope"},
		{"wrong scheme", "Basic " + testKey},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/stats/llm", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestSubmitAndFetchRows(t *testing.T) {
	env := newTestEnv(t, false)
	jobID := env.submit(t, "AAPL_Q1_2024.txt", sampleTranscript)
	snap := env.wait(t, jobID)
	if snap.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %q", snap.Status)
	}

	resp := env.do(t, http.MethodGet, "/api/transcripts/"+jobID+"/status", nil, "")
	var status pipeline.JobSnapshot
	json.NewDecoder(resp.Body).Decode(&status)
	if status.Progress.TotalBlocks != 2 || status.Meta.Ticker != "AAPL" {
		t.Errorf("unexpected status %+v", status)
	}

	resp = env.do(t, http.MethodGet, "/api/transcripts/"+jobID+"/rows", nil, "")
	var body struct {
		Rows []results.Row `json:"rows"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(body.Rows))
	}
	if body.Rows[0].SpeakerRole != "CEO" || body.Rows[0].Revenue != "Positive" {
		t.Errorf("unexpected first row %+v", body.Rows[0])
	}

	resp = env.do(t, http.MethodGet, "/api/transcripts/"+jobID+"/rows?format=csv", nil, "")
	recs, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(recs) != 3 || recs[0][0] != "filename" {
		t.Errorf("expected header + 2 csv rows, got %d records", len(recs))
	}

	resp = env.do(t, http.MethodGet, "/api/transcripts/"+jobID+"/summary", nil, "")
	var sum results.Summary
	json.NewDecoder(resp.Body).Decode(&sum)
	if sum.Rows != 2 || len(sum.Roles) != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestSubmitRejectsUnsupported(t *testing.T) {
	env := newTestEnv(t, false)
	body, ct := multipartBody(t, "file", map[string]string{"data.xls": "x"})
	resp := env.do(t, http.MethodPost, "/api/transcripts", body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBatchSubmit(t *testing.T) {
	env := newTestEnv(t, false)
	body, ct := multipartBody(t, "files", map[string]string{
		"AAPL_Q1_2024.txt": sampleTranscript,
		"bad.exe":          "x",
	})
	resp := env.do(t, http.MethodPost, "/api/transcripts/batch", body, ct)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var out struct {
		Jobs []map[string]any `json:"jobs"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Jobs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out.Jobs))
	}
	accepted, rejected := 0, 0
	for _, j := range out.Jobs {
		if _, ok := j["error"]; ok {
			rejected++
		} else {
			accepted++
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Errorf("expected 1 accepted and 1 rejected, got %d and %d", accepted, rejected)
	}
}

func TestUnknownJob(t *testing.T) {
	env := newTestEnv(t, false)
	for _, suffix := range []string{"status", "rows", "summary", "stream"} {
		resp := env.do(t, http.MethodGet, "/api/transcripts/missing/"+suffix, nil, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", suffix, resp.StatusCode)
		}
	}
}

func TestSegmentEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	payload, _ := json.Marshal(map[string]any{
		"text":            sampleTranscript,
		"filename":        "AAPL_Q1_2024.txt",
		"max_block_chars": 10,
	})
	resp := env.do(t, http.MethodPost, "/api/segment", bytes.NewReader(payload), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Blocks []struct {
			Role    string `json:"speaker_role"`
			Section string `json:"section"`
			Text    string `json:"text"`
		} `json:"blocks"`
		Degraded       bool `json:"degraded"`
		SpeakerHeaders int  `json:"speaker_headers"`
		Meta           struct {
			Ticker string `json:"ticker"`
		} `json:"meta"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Blocks) != 2 || out.SpeakerHeaders != 2 || out.Degraded {
		t.Fatalf("unexpected result %+v", out)
	}
	if out.Blocks[0].Text != "Revenue gr" {
		t.Errorf("expected truncated text, got %q", out.Blocks[0].Text)
	}
	if out.Blocks[1].Section != "qanda" {
		t.Errorf("expected qanda section, got %q", out.Blocks[1].Section)
	}
	if out.Meta.Ticker != "AAPL" {
		t.Errorf("expected ticker AAPL, got %q", out.Meta.Ticker)
	}
}

func TestSegmentEndpointEmptyText(t *testing.T) {
	env := newTestEnv(t, false)
	resp := env.do(t, http.MethodPost, "/api/segment", strings.NewReader(`{"text":""}`), "application/json")
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	blocks, ok := out["blocks"].([]any)
	if !ok || len(blocks) != 0 {
		t.Errorf("expected empty blocks array, got %v", out["blocks"])
	}
}

func TestSegmentEndpointBadJSON(t *testing.T) {
	env := newTestEnv(t, false)
	resp := env.do(t, http.MethodPost, "/api/segment", strings.NewReader(`{`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLLMStats(t *testing.T) {
	env := newTestEnv(t, false)
	resp := env.do(t, http.MethodGet, "/api/stats/llm", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["model"] != "gpt-test" {
		t.Errorf("expected model gpt-test, got %v", out["model"])
	}
}

func TestStream(t *testing.T) {
	env := newTestEnv(t, false)
	jobID := env.submit(t, "AAPL_Q1_2024.txt", sampleTranscript)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/transcripts/" + jobID + "/stream"
	header := http.Header{"Authorization": {"Bearer " + testKey}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var last pipeline.JobSnapshot
	for {
		var snap pipeline.JobSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		last = snap
	}
	if last.Status != pipeline.StatusCompleted {
		t.Errorf("expected final snapshot completed, got %q", last.Status)
	}
}

func TestDuplicateRowsComeFromStore(t *testing.T) {
	env := newTestEnv(t, true)
	first := env.submit(t, "AAPL_Q1_2024.txt", sampleTranscript)
	env.wait(t, first)
	second := env.submit(t, "AAPL_Q1_2024_copy.txt", sampleTranscript)
	snap := env.wait(t, second)
	if snap.Status != pipeline.StatusDupSkipped {
		t.Fatalf("expected duplicate_skipped, got %q", snap.Status)
	}

	resp := env.do(t, http.MethodGet, "/api/transcripts/"+second+"/rows", nil, "")
	var body struct {
		Rows []results.Row `json:"rows"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Rows) != 2 {
		t.Fatalf("expected 2 rows from store, got %d", len(body.Rows))
	}

	resp = env.do(t, http.MethodGet, "/api/stored", nil, "")
	var list struct {
		Transcripts []store.TranscriptRecord `json:"transcripts"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	if len(list.Transcripts) != 1 {
		t.Fatalf("expected 1 stored transcript, got %d", len(list.Transcripts))
	}

	resp = env.do(t, http.MethodGet, "/api/stored/"+list.Transcripts[0].ID+"/rows", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for stored rows, got %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/api/stored/nope/rows", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown transcript, got %d", resp.StatusCode)
	}
}

// newKVServer is an in-memory pathstore.
func newKVServer(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	nodes := make(map[string]json.RawMessage)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		key := strings.TrimPrefix(r.URL.Path, "/kv/")
		switch {
		case r.URL.Path == "/links":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut:
			var body struct {
				Value json.RawMessage `json:"value"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			nodes[key] = body.Value
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete:
			for k := range nodes {
				if k == key || strings.HasPrefix(k, key+"/") {
					delete(nodes, k)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(key, "/*"):
			prefix := strings.TrimSuffix(key, "*")
			list := []map[string]any{}
			for k, v := range nodes {
				if strings.HasPrefix(k, prefix) {
					list = append(list, map[string]any{"key_path": k, "value": v})
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"nodes": list})
		default:
			v, ok := nodes[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"key_path": key, "value": v})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDuplicateRowsComeFromPathstore(t *testing.T) {
	kv := newKVServer(t)
	env := newTestEnvWithRemote(t, false, pathstore.NewClient(kv.URL, "key"))

	first := env.submit(t, "AAPL_Q1_2024.txt", sampleTranscript)
	if snap := env.wait(t, first); snap.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %q (%v)", snap.Status, snap.Progress.Errors)
	}
	second := env.submit(t, "AAPL_Q1_2024_copy.txt", sampleTranscript)
	snap := env.wait(t, second)
	if snap.Status != pipeline.StatusDupSkipped {
		t.Fatalf("expected duplicate_skipped, got %q", snap.Status)
	}
	if snap.TranscriptID != first {
		t.Errorf("expected duplicate of %s, got %s", first, snap.TranscriptID)
	}

	resp := env.do(t, http.MethodGet, "/api/transcripts/"+second+"/rows", nil, "")
	var body struct {
		Rows []results.Row `json:"rows"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Rows) != 2 || body.Rows[0].SpeakerRole != "CEO" {
		t.Fatalf("expected 2 rows from pathstore, got %+v", body.Rows)
	}

	resp = env.do(t, http.MethodGet, "/api/stored/"+first+"/rows", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for stored rows, got %d", resp.StatusCode)
	}
}

func TestStoredWithoutDatabase(t *testing.T) {
	env := newTestEnv(t, false)
	resp := env.do(t, http.MethodGet, "/api/stored", nil, "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AAPL_Q1_2024.txt", "AAPL_Q1_2024.txt"},
		{"../../etc/passwd.txt", "passwd.txt"},
		{`C:\calls\MSFT_Q2_2024.txt`, "MSFT_Q2_2024.txt"},
		{"", "unnamed"},
	}
	for _, tc := range tests {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, expected %q", tc.in, got, tc.want)
		}
	}
}
