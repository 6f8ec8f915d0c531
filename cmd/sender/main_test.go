package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ses-bulk-sender/internal/api"
	"github.com/ignite/ses-bulk-sender/internal/config"
	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/repository/memory"
	"github.com/ignite/ses-bulk-sender/internal/service/drafts"
	"github.com/ignite/ses-bulk-sender/internal/service/history"
	"github.com/ignite/ses-bulk-sender/internal/worker"
)

type okSender struct{}

func (okSender) Send(_ context.Context, msg *domain.EmailMessage) (string, error) {
	return "id-" + msg.Recipient, nil
}

func TestParseRecipients(t *testing.T) {
	in := `# newsletter list
a@example.com
b@example.com, c@example.com;d@example.com

  e@example.com
`
	got, err := parseRecipients(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"}, got)
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.APIToken = "tok"
	cfg.SES.Region = "us-east-1"
	cfg.SES.SourceEmail = "sender@example.com"
	cfg.Batch.BatchSize = 2
	zero := 0.0
	cfg.Batch.DelaySeconds = &zero

	repo := memory.NewHistoryRepo()
	d := worker.NewBatchDispatcher(okSender{})
	d.SetObservers(history.NewRecorder(repo, cfg.SES.SourceEmail))

	srv := api.NewServer(cfg.Server, api.Deps{
		Config:     cfg,
		Dispatcher: d,
		History:    history.NewService(repo),
		Drafts:     drafts.NewService(memory.NewDraftRepo()),
		Health:     api.NewHealthChecker(nil, nil, nil, "test"),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestRunSend(t *testing.T) {
	ts := newAPIServer(t)
	list := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(list, []byte("a@example.com\nb@example.com\nc@example.com\n"), 0o600))

	var out bytes.Buffer
	err := runSend(context.Background(), []string{
		"-server", ts.URL, "-token", "tok",
		"-recipients", list, "-subject", "Hi", "-body", "Hello", "-format", "text",
	}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Sending to 3 recipients in 2 batches")
	assert.Contains(t, out.String(), "done: 3 sent, 0 failed")

	// A second run with -skip-sent finds nothing new.
	out.Reset()
	err = runSend(context.Background(), []string{
		"-server", ts.URL, "-token", "tok",
		"-recipients", list, "-subject", "Hi", "-body", "Hello", "-skip-sent",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "skipping 3 already-sent recipients, 0 new")

	out.Reset()
	require.NoError(t, runStats(context.Background(), []string{"-server", ts.URL, "-token", "tok"}, &out))
	assert.Contains(t, out.String(), "sent:              3")

	out.Reset()
	require.NoError(t, runHistory(context.Background(), []string{"-server", ts.URL, "-token", "tok"}, &out))
	assert.Contains(t, out.String(), "Hi")
}

func TestRunSendValidationError(t *testing.T) {
	ts := newAPIServer(t)
	list := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(list, []byte("not-an-address\n"), 0o600))

	err := runSend(context.Background(), []string{
		"-server", ts.URL, "-token", "tok",
		"-recipients", list, "-subject", "Hi", "-body", "Hello",
	}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipients")
}

func TestRunSendFromDraft(t *testing.T) {
	ts := newAPIServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/drafts", strings.NewReader(
		`{"name":"weekly","subject":"Weekly","body":"Hello","email_type":"text","recipients":["a@example.com","b@example.com"]}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out bytes.Buffer
	require.NoError(t, runSend(context.Background(), []string{
		"-server", ts.URL, "-token", "tok", "-draft", "1", "-subject", "Weekly #2",
	}, &out))
	assert.Contains(t, out.String(), "Sending to 2 recipients in 1 batches")
	assert.Contains(t, out.String(), "done: 2 sent, 0 failed")

	out.Reset()
	require.NoError(t, runHistory(context.Background(), []string{"-server", ts.URL, "-token", "tok"}, &out))
	assert.Contains(t, out.String(), "Weekly #2")

	err = runSend(context.Background(), []string{"-server", ts.URL, "-token", "tok", "-draft", "9"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load draft 9")
}

func TestRunSendRequiresRecipients(t *testing.T) {
	err := runSend(context.Background(), []string{"-subject", "x"}, &bytes.Buffer{})
	assert.EqualError(t, err, "-recipients is required")
}

func TestRunHealth(t *testing.T) {
	ts := newAPIServer(t)
	var out bytes.Buffer
	require.NoError(t, runHealth(context.Background(), []string{"-server", ts.URL}, &out))
	assert.Contains(t, out.String(), "status: healthy (version test")
	assert.Contains(t, out.String(), "database")
}
