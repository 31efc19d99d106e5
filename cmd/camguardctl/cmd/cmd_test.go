// SPDX-License-Identifier: MIT

package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func runWith(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	serverAddr = srv.URL
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestStatusCmd_PrintsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"health_tier": "healthy"})
	}))
	defer srv.Close()

	_, err := runWith(t, srv, "status")
	require.NoError(t, err)
}

func TestStartCmd_UnknownSourceReturnsExitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "not found"})
	}))
	defer srv.Close()

	_, err := runWith(t, srv, "start", "unknown")
	require.Error(t, err)
}

func TestStartCmd_All_PrintsResultsTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/start_all", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]string{"cam1": "ok"},
		})
	}))
	defer srv.Close()

	_, err := runWith(t, srv, "start", "all")
	require.NoError(t, err)
}

func TestRestartCmd_RejectsSingleSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the daemon for a single-source restart")
	}))
	defer srv.Close()

	_, err := runWith(t, srv, "restart", "cam1")
	require.Error(t, err)
}

func TestCleanupCmd_DryRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/storage/cleanup", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("dry_run"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"dry_run": true, "removed_count": 0, "freed_bytes": 0,
		})
	}))
	defer srv.Close()

	_, err := runWith(t, srv, "cleanup", "--dry-run")
	require.NoError(t, err)
}

func TestTranscodeCmd_RejectsUnknownSubcommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the daemon for an unknown transcode subcommand")
	}))
	defer srv.Close()

	_, err := runWith(t, srv, "transcode", "bogus")
	require.Error(t, err)
}

func TestTranscodeCmd_Enable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/transcoding/enable", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	_, err := runWith(t, srv, "transcode", "enable")
	require.NoError(t, err)
}
