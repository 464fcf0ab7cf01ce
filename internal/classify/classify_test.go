package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply string
		want  Verdict
	}{
		{"For", VerdictFor},
		{" against.\n", VerdictAgainst},
		{"\"None\"", VerdictNone},
		{"FOR", VerdictFor},
	}
	for _, tt := range tests {
		got, err := ParseVerdict(tt.reply)
		if err != nil {
			t.Fatalf("ParseVerdict(%q): %v", tt.reply, err)
		}
		if got != tt.want {
			t.Errorf("ParseVerdict(%q): expected %q, got %q", tt.reply, tt.want, got)
		}
	}
	if _, err := ParseVerdict("The fund voted For."); !errors.Is(err, ErrUnexpectedReply) {
		t.Errorf("expected ErrUnexpectedReply, got %v", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	s := Subject{
		Security:      "TESLA, INC",
		Ticker:        "TSLA",
		Meeting:       "21-Mar-18 special meeting",
		Proposal:      "number 1",
		Phrasings:     []string{"Approve Stock Option Grant to Elon Musk"},
		ManagementRec: "For",
	}
	p := BuildPrompt(s, "| TSLA | 1 | For |")
	for _, want := range []string{
		"vote cast on TESLA, INC (ticker TSLA) issue/proposal number 1 at the 21-Mar-18 special meeting.",
		"- Approve Stock Option Grant to Elon Musk\n",
		"ignore the Management Recommendation (which is For on this issue).",
		"Input:\n| TSLA | 1 | For |",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("expected prompt to contain %q, got:\n%s", want, p)
		}
	}
	if strings.Contains(BuildPrompt(Subject{Security: "X"}, ""), "(which is") {
		t.Error("expected no recommendation clause without ManagementRec")
	}
}

func TestClaudeClient_Classify(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("expected api key header, got %q", r.Header.Get("x-api-key"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Against"}]}`))
	}))
	defer srv.Close()

	c := NewClaudeClient("k", "test-model").WithBaseURL(srv.URL)
	defer c.Close()
	v, err := c.Classify(context.Background(), Subject{Security: "TESLA, INC"}, "block")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v != VerdictAgainst {
		t.Errorf("expected Against, got %q", v)
	}
	if gotReq.Model != "test-model" || len(gotReq.Messages) != 1 {
		t.Errorf("unexpected request %+v", gotReq)
	}
	if c.Model() != "test-model" {
		t.Errorf("expected model test-model, got %s", c.Model())
	}
	if n := c.Stats.Snapshot().Count; n != 1 {
		t.Errorf("expected 1 latency sample, got %d", n)
	}
}

func TestClaudeClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, true},
		{"server error", http.StatusBadGateway, `oops`, true},
		{"bad request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"bad"}}`, false},
		{"api error body", http.StatusOK, `{"error":{"type":"overloaded_error","message":"busy"}}`, false},
		{"empty content", http.StatusOK, `{"content":[]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClaudeClient("k", "m").WithBaseURL(srv.URL)
			_, err := c.Classify(context.Background(), Subject{}, "x")
			if err == nil {
				t.Fatal("expected error")
			}
			var re *RetryableError
			if got := errors.As(err, &re); got != tt.retryable {
				t.Errorf("expected retryable=%v, got %v (%v)", tt.retryable, got, err)
			}
		})
	}
}

func TestLLMStatsSnapshotPercentiles(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	for _, ms := range []int64{300, 100, 500, 200, 400} {
		stats.Record(ms)
	}

	snap := stats.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Fatalf("expected min=100 max=500, got %d %d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
}

func TestLLMStatsPrunesExpiredSamples(t *testing.T) {
	stats := NewLLMStats(10 * time.Millisecond)
	stats.Record(100)
	time.Sleep(25 * time.Millisecond)

	if n := stats.Snapshot().Count; n != 0 {
		t.Fatalf("expected count=0 after prune, got %d", n)
	}
	stats.Record(-10)
	snap := stats.Snapshot()
	if snap.Count != 1 || snap.MinMs != 0 {
		t.Fatalf("expected one clamped sample, got %+v", snap)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"word", 1},
		{"a b c", 3},
		{strings.Repeat("vote ", 100), 133},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q): expected %d, got %d", tt.text, tt.want, got)
		}
	}
}

func TestClipInput(t *testing.T) {
	text := strings.Repeat("a b c\n", 10)
	if got := ClipInput(text, 100); got != text {
		t.Errorf("expected text under budget unchanged, got %q", got)
	}
	if got := ClipInput(text, 10); got != "a b c\na b c\na b c\n" {
		t.Errorf("expected three lines, got %q", got)
	}
	long := "one two three four five\nsix\n"
	if got := ClipInput(long, 2); got != "one two three four five\n" {
		t.Errorf("expected first line kept, got %q", got)
	}

	huge := "TESLA, INC.\n" + strings.Repeat("filler line of text\n", 5000)
	prompt := BuildPrompt(Subject{Security: "TESLA, INC"}, huge)
	if EstimateTokens(prompt) > MaxInputTokens*3/2 {
		t.Errorf("expected clipped prompt, got %d tokens", EstimateTokens(prompt))
	}
	if !strings.Contains(prompt, "TESLA, INC.\n") {
		t.Error("expected head of section in prompt")
	}
}

func TestClaudeClient_RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClaudeClient("k", "m").WithBaseURL(srv.URL)
	_, err := c.Classify(context.Background(), Subject{}, "x")
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if re.RetryAfter != 12*time.Second {
		t.Errorf("expected 12s, got %v", re.RetryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{"Mon, 02 Jan 2006 15:04:05 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
