package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/internal/storage"
	"github.com/tjfontaine/wikifront/internal/storage/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSignMatchesRunJobsVerification(t *testing.T) {
	out, err := execute(t, "sign", "--secret", "s3cret", "title=Main_Page", "tasks=jobs", "maxjobs=1", "sigexpiry=1700000005")
	require.NoError(t, err)

	query := url.Values{
		"title":     {"Main_Page"},
		"tasks":     {"jobs"},
		"maxjobs":   {"1"},
		"sigexpiry": {"1700000005"},
	}
	sig := strings.TrimSpace(out)
	assert.Equal(t, jobs.Signature(query, "s3cret"), sig)
	assert.True(t, jobs.Verify(query, "s3cret", sig))
}

func TestSignRejectsBadArguments(t *testing.T) {
	_, err := execute(t, "sign", "--secret", "s3cret", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not key=value")
}

func TestRootRejectsBadLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "sign", "--secret", "x", "a=b")
	require.Error(t, err)
}

func TestRunJobsDrainsQueue(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "wiki.db")
	jobsPath := filepath.Join(dir, "wiki-jobs.db")

	store, err := sqlite.New(ctx, mainPath, jobsPath)
	require.NoError(t, err)
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Jobs().Push(ctx,
		&storage.Job{Type: jobs.TypeNull},
		&storage.Job{Type: jobs.TypeNull},
		&storage.Job{Type: jobs.TypeNull},
	))
	require.NoError(t, sess.CommitAll(ctx, storage.CommitOptions{}))
	require.NoError(t, sess.Shutdown(ctx))
	require.NoError(t, store.Close())

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("storage:\n  type: sqlite\n  sqlite:\n    path: %s\n    jobs_path: %s\n", mainPath, jobsPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	out, err := execute(t, "--config", cfgPath, "--log-level", "error", "runjobs", "--maxjobs", "2")
	require.NoError(t, err)

	var res jobs.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Jobs, 2)
	for _, j := range res.Jobs {
		assert.Equal(t, jobs.TypeNull, j.Type)
		assert.Equal(t, "ok", j.Status)
	}
	assert.Equal(t, jobs.ReachedJobLimit, res.Reached)
}
