package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	// Responses are consumed in order per key; the last one repeats.
	responses map[string][]string
}

func newTestServer(t *testing.T, responses map[string][]string) *testServer {
	t.Helper()
	ts := &testServer{responses: responses}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if queue, ok := ts.responses[key]; ok && len(queue) > 0 {
			resp := queue[0]
			if len(queue) > 1 {
				ts.responses[key] = queue[1:]
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"attempt 99 not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

// execute runs the root command against ts and returns what it wrote to stdout.
func execute(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

var ctx = context.Background()

func TestClient_PostAndDecode(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"POST /api/analyze/3": {`{"status":"processing","attempt_id":3}`},
	})

	resp, err := ts.client().post(ctx, "/api/analyze/3", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "processing" {
		t.Errorf("status = %v", result["status"])
	}
}

func TestDecodeJSON_ServerErrorMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/api/analyze/99/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = decodeJSON(resp, &struct{}{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "attempt 99 not found") {
		t.Errorf("error = %q", err)
	}
}

func TestClient_ServerDown(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", httpClient: http.DefaultClient}
	_, err := c.get(ctx, "/api/health")
	if err == nil || !strings.Contains(err.Error(), "is starcoach running") {
		t.Errorf("err = %v", err)
	}
}

func TestQuestionsCommand(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /api/questions": {`[
			{"id":1,"category":"Conflict","question_text":"Tell me about a disagreement.","tips":"","attempt_count":2},
			{"id":2,"category":"Failure","question_text":"Describe a failure.","tips":"","attempt_count":0}
		]`},
	})

	out, err := execute(t, ts, "questions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Conflict", "Tell me about a disagreement.", "Failure"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAnalyzeCommand(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"POST /api/analyze/5": {`{"status":"processing","attempt_id":5,"job_id":"j1"}`},
	})

	if _, err := execute(t, ts, "analyze", "5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := ts.recorded()
	if len(reqs) != 1 || reqs[0].Method != "POST" || reqs[0].Path != "/api/analyze/5" {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestAnalyzeCommand_InvalidID(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := execute(t, ts, "analyze", "abc")
	if err == nil || !strings.Contains(err.Error(), "positive integer") {
		t.Errorf("err = %v", err)
	}
	if n := len(ts.recorded()); n != 0 {
		t.Errorf("made %d requests for an invalid id", n)
	}
}

func TestAnalyzeCommand_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := execute(t, ts, "analyze", "99")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

const completeStatus = `{
	"attempt_id": 7,
	"status": "complete",
	"transcription": {"attempt_id": 7, "text": "I led the database migration.", "words": []},
	"analytics": {
		"attempt_id": 7,
		"pause_count": 1,
		"filler_word_count": 3,
		"filler_words_detail": {"um": 2, "like": 1},
		"answer_duration_seconds": 95,
		"words_per_minute": 132.4,
		"clarity_score": 4,
		"confidence_score": 5,
		"structure_score": 3
	},
	"feedback": {
		"attempt_id": 7,
		"coach_feedback": "Quantify the result of the migration.",
		"star_scores": {"situation": 4, "task": 3, "action": 5, "result": 2}
	}
}`

func TestResultCommand_Render(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /api/analyze/7/status": {completeStatus},
	})

	out, err := execute(t, ts, "result", "7", "--wait=false", "--json=false")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"complete",
		"I led the database migration.",
		"4/5",
		"um×2, like×1",
		"Situation 4/5",
		"Quantify the result of the migration.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "(LLM)") {
		t.Errorf("LLM rows rendered without LLM scores:\n%s", out)
	}
}

func TestResultCommand_JSON(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /api/analyze/7/status": {`{"attempt_id":7,"status":"transcribing"}`},
	})

	out, err := execute(t, ts, "result", "7", "--wait=false", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"status": "transcribing"`) {
		t.Errorf("output = %q", out)
	}
}

func TestResultCommand_WaitPollsUntilComplete(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /api/analyze/7/status": {
			`{"attempt_id":7,"status":"transcribing"}`,
			`{"attempt_id":7,"status":"analytics_pending","transcription":{"attempt_id":7,"text":"x"}}`,
			completeStatus,
		},
	})

	out, err := execute(t, ts, "result", "7", "--wait", "--interval=1ms", "--json=false")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(ts.recorded()); n != 3 {
		t.Errorf("polled %d times, want 3", n)
	}
	if !strings.Contains(out, "Quantify the result") {
		t.Errorf("final result not rendered:\n%s", out)
	}
}

func TestResultCommand_WaitStopsOnFailure(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /api/analyze/8/status": {`{"attempt_id":8,"status":"transcribing","failure":"transcription failed: connection refused"}`},
	})

	out, err := execute(t, ts, "result", "8", "--wait", "--interval=1ms", "--json=false")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "connection refused") {
		t.Errorf("failure not shown:\n%s", out)
	}
	if n := len(ts.recorded()); n != 1 {
		t.Errorf("polled %d times, want 1", n)
	}
}

func TestAttemptsCommand(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /api/attempts/2": {`[
			{"id":11,"question_id":2,"attempt_number":2,"duration_seconds":80,"created_at":"2026-03-02T10:00:00Z",
			 "transcription":{"attempt_id":11,"text":"t"},"analytics":null,"feedback":null},
			{"id":10,"question_id":2,"attempt_number":1,"duration_seconds":60,"created_at":"2026-03-01T10:00:00Z",
			 "transcription":{"attempt_id":10,"text":"t"},"analytics":{"attempt_id":10,"clarity_score":3},
			 "feedback":{"attempt_id":10,"coach_feedback":"ok"}}
		]`},
	})

	out, err := execute(t, ts, "attempts", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"analytics_pending", "complete", "3/5"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProgressCommand(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /api/progress/1": {`{
			"question_id":1,"question_text":"Tell me about a conflict.","trend":"improving",
			"data_points":[
				{"attempt_id":1,"attempt_number":1,"clarity_score":2,"confidence_score":2,"structure_score":2,"star_scores":null,"created_at":"2026-03-01T10:00:00Z"},
				{"attempt_id":2,"attempt_number":2,"clarity_score":4,"confidence_score":4,"structure_score":4,"star_scores":{"situation":4,"task":4,"action":4,"result":3},"created_at":"2026-03-02T10:00:00Z"}
			]}`},
	})

	out, err := execute(t, ts, "progress", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Tell me about a conflict.", "improving", "4/4/4/3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDashboardCommand(t *testing.T) {
	ts := newTestServer(t, map[string][]string{
		"GET /api/dashboard": {`{"total_attempts":4,"questions_practiced":2,"total_questions":12,
			"total_practice_seconds":300,"avg_clarity_score":3.5,"avg_confidence_score":null,
			"avg_structure_score":4,"daily_activity":{"2026-03-01":3,"2026-03-02":1}}`},
	})

	out, err := execute(t, ts, "dashboard")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"2 of 12", "5m0s", "3.5", "2026-03-02"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFillerSummary_SortedByCount(t *testing.T) {
	got := fillerSummary(map[string]int{"like": 1, "um": 3, "so": 1})
	if got != " (um×3, like×1, so×1)" {
		t.Errorf("fillerSummary = %q", got)
	}
	if fillerSummary(nil) != "" {
		t.Error("empty detail should render nothing")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate = %q", got)
	}
}

func TestColorize_NoColor(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorRed, "hello"); result != "hello" {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorRed, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still readable after removal")
	}
}
