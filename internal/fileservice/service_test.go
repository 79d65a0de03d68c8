package fileservice

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schwartzmorn/kodiproxy-go/internal/filerepo"
)

func newTestServer(t *testing.T) (*httptest.Server, *filerepo.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := filerepo.Open(context.Background(), t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, repo.Close()) })

	svc := New(repo, logger, nil)
	srv := httptest.NewServer(svc.Routes())
	t.Cleanup(srv.Close)

	return srv, repo
}

func TestE2ECreateThenRead(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/files/keepass/pdb.kdbx", "application/octet-stream",
		bytes.NewBufferString("content of current file"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode) // POST is not a file-service verb

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/files/keepass/pdb.kdbx", bytes.NewBufferString("content of current file"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, `"0"`, resp.Header.Get("ETag"))

	resp, err = http.Get(srv.URL + "/files/keepass/pdb.kdbx")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "content of current file", string(body))
	require.Equal(t, `"0"`, resp.Header.Get("ETag"))
	require.Equal(t, `attachment; filename="pdb.kdbx"`, resp.Header.Get("Content-Disposition"))
}

func TestE2EUpdateWithPrecondition(t *testing.T) {
	srv, _ := newTestServer(t)

	put := func(etag string) *http.Response {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/files/keepass/pdb.kdbx", bytes.NewBufferString("v"))
		if etag != "" {
			req.Header.Set("ETag", etag)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)

		return resp
	}

	resp := put("")
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = put("")
	resp.Body.Close()
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = put(`"0"`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, `"1"`, resp.Header.Get("ETag"))
}

func TestE2EDelete(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/files/keepass/pdb.kdbx", bytes.NewBufferString("x"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	del, _ := http.NewRequest(http.MethodDelete, srv.URL+"/files/keepass/pdb.kdbx", nil)
	resp, err = http.DefaultClient.Do(del)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	del, _ = http.NewRequest(http.MethodDelete, srv.URL+"/files/keepass/pdb.kdbx", nil)
	del.Header.Set("ETag", `"0"`)
	resp, err = http.DefaultClient.Do(del)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, `"1"`, resp.Header.Get("ETag"))

	getResp, err := http.Get(srv.URL + "/files/keepass/pdb.kdbx")
	require.NoError(t, err)
	getResp.Body.Close()
	require.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestE2EMove(t *testing.T) {
	srv, _ := newTestServer(t)

	put, _ := http.NewRequest(http.MethodPut, srv.URL+"/files/keepass/pdb.kdbx.tmp", bytes.NewBufferString("x"))
	resp, err := http.DefaultClient.Do(put)
	require.NoError(t, err)
	resp.Body.Close()

	move, _ := http.NewRequest("MOVE", srv.URL+"/files/keepass/pdb.kdbx.tmp", nil)
	move.Header.Set("ETag", `"0"`)
	move.Header.Set("Destination", "/files/keepass/pdb.kdbx")
	resp, err = http.DefaultClient.Do(move)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	versResp, err := http.Get(srv.URL + "/file-versions/keepass/pdb.kdbx.tmp")
	require.NoError(t, err)
	defer versResp.Body.Close()

	var raw []map[string]any
	require.NoError(t, json.NewDecoder(versResp.Body).Decode(&raw))
	require.Len(t, raw, 2)

	entry0 := raw[0]["entry"].(map[string]any)
	require.Equal(t, "Creation", entry0["type"])
	require.InDelta(t, 0, entry0["version"], 0.001)

	entry1 := raw[1]["entry"].(map[string]any)
	require.Equal(t, "MoveTo", entry1["type"])
	require.Equal(t, "keepass/pdb.kdbx", entry1["pathTo"])
}
