package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/faqscope/internal/storage"
)

// executeCmd runs rootCmd with args against a temporary config and data dir
// and returns stdout.
func executeCmd(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dataDir, "config"))
	t.Setenv("FAQSCOPE_STORAGE_DATA_DIR", dataDir)
	t.Setenv("FAQSCOPE_LLM_PROVIDER", "")

	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	}()
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportMessages(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "messages.json", `[
		{"id":"m1","text":"<p>I cannot log in</p>","created_at":"2025-03-01T10:00:00Z"},
		{"id":"m2","text":"refund please"},
		{"id":"","text":"orphan"}
	]`)

	if _, err := executeCmd(t, dir, "--no-color", "import", "messages", "--file", file); err != nil {
		t.Fatalf("import: %v", err)
	}

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	counts, err := store.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Messages != 2 {
		t.Errorf("messages = %d, want 2", counts.Messages)
	}
}

func TestImportFAQs_Stream(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "faqs.jsonl",
		"{\"question\":\"How do I log in?\",\"answer\":\"Use the portal.\"}\n{\"question\":\"Refunds?\",\"answer\":\"Within 14 days.\"}\n")

	if _, err := executeCmd(t, dir, "import", "faqs", "--file", file); err != nil {
		t.Fatalf("import: %v", err)
	}

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	counts, _ := store.Counts(context.Background())
	if counts.FAQs != 2 {
		t.Errorf("faqs = %d, want 2", counts.FAQs)
	}
}

func TestImport_RequiresFile(t *testing.T) {
	_, err := executeCmd(t, t.TempDir(), "import", "messages")
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Errorf("err = %v, want it to mention 'required'", err)
	}
}

func TestRunsPrune_RequiresConfirm(t *testing.T) {
	_, err := executeCmd(t, t.TempDir(), "runs", "prune", "--keep", "1")
	if err == nil || !strings.Contains(err.Error(), "--confirm") {
		t.Errorf("err = %v, want it to mention --confirm", err)
	}
}

func TestRunsListAndShow(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := store.CreateRun(ctx, &storage.Run{ID: "run-1", Notes: "weekly"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveClusterResults(ctx, "run-1", []storage.ClusterResult{
		{ClusterLabel: 0, MessageCount: 4, MatchedFAQID: "faq-1", Similarity: 0.87, CoverageLabel: "Partially",
			ResolutionScore: 3, Keywords: []string{"login", "password"},
			Suggestion: &storage.FAQSuggestion{Question: "How do I reset my password?", Answer: "Use the reset link."}},
	}); err != nil {
		t.Fatal(err)
	}
	for _, step := range [][2]storage.RunState{
		{storage.RunNew, storage.RunClustered}, {storage.RunClustered, storage.RunMatched},
		{storage.RunMatched, storage.RunScored}, {storage.RunScored, storage.RunPersisted},
	} {
		if err := store.UpdateRunState(ctx, "run-1", step[0], step[1], ""); err != nil {
			t.Fatal(err)
		}
	}
	store.Close()

	out, err := executeCmd(t, dir, "runs", "list")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, "run-1") || !strings.Contains(out, "persisted") {
		t.Errorf("list output = %q", out)
	}

	out, err = executeCmd(t, dir, "--no-color", "runs", "show")
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	for _, want := range []string{"Run run-1", "faq-1", "0.87", "Partially", "login, password", "How do I reset my password?"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	out, err = executeCmd(t, dir, "runs", "show", "run-1", "--json")
	if err != nil {
		t.Fatalf("runs show --json: %v", err)
	}
	var decoded struct {
		Run      storage.Run             `json:"run"`
		Clusters []storage.ClusterResult `json:"clusters"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decoding json output: %v", err)
	}
	if decoded.Run.ID != "run-1" || len(decoded.Clusters) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}

	if _, err := executeCmd(t, dir, "runs", "show", "missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestConfigSetAndShow(t *testing.T) {
	dir := t.TempDir()
	if _, err := executeCmd(t, dir, "config", "set", "pipeline.workers", "4"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := executeCmd(t, dir, "--no-color", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "pipeline.workers = 4") {
		t.Errorf("show output = %q", out)
	}

	if _, err := executeCmd(t, dir, "config", "set", "llm.openrouter_api_key", "x"); err == nil {
		t.Error("expected error setting a secret")
	}
	if _, err := executeCmd(t, dir, "config", "unset", "pipeline.workers"); err != nil {
		t.Fatalf("config unset: %v", err)
	}
	out, _ = executeCmd(t, dir, "--no-color", "config", "show")
	if !strings.Contains(out, "pipeline.workers = 1") {
		t.Errorf("after unset output = %q", out)
	}
}

func TestRunsTrigger(t *testing.T) {
	var gotBody, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		gotBody = buf.String()
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"job_id":"job-42","status":"pending"}`))
	}))
	t.Cleanup(srv.Close)

	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) {
		return &apiClient{baseURL: srv.URL, token: "test-token", httpClient: srv.Client()}, nil
	}
	t.Cleanup(func() { newAPIClient = orig })

	if _, err := executeCmd(t, t.TempDir(), "runs", "trigger", "--notes", "adhoc", "--embed"); err != nil {
		t.Fatalf("runs trigger: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	if !strings.Contains(gotBody, `"notes":"adhoc"`) || !strings.Contains(gotBody, `"embed_first":true`) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestDecodeJSON_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token"}}`))
	}))
	t.Cleanup(srv.Close)

	c := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}
	resp, err := c.get(context.Background(), "/runs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want 401", err)
	}
}

func TestWriteRunsTable_FailedReason(t *testing.T) {
	var buf bytes.Buffer
	writeRunsTable(&buf, []storage.Run{
		{ID: "r2", CreatedAt: time.Now(), State: storage.RunFailed, FailureReason: "no clusters found"},
	})
	if !strings.Contains(buf.String(), "failed (no clusters found)") {
		t.Errorf("table = %q", buf.String())
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "hello"); strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorGreen, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
