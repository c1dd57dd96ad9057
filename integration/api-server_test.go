//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phone = "+15550001"

type apiClient struct {
	t      *testing.T
	client *http.Client
}

func newAPIClient(t *testing.T, socketPath string) *apiClient {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &apiClient{
		t: t,
		client: &http.Client{
			Jar:     jar,
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return new(net.Dialer).DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *apiClient) do(method, path string, body any) (int, map[string]any, error) {
	var payload bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&payload).Encode(body))
	}

	req, err := http.NewRequestWithContext(c.t.Context(), method, "http://unix"+path, &payload)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, nil, err
	}

	return resp.StatusCode, out, nil
}

func TestAPIServer(t *testing.T) {
	const cmdName = "api-server"

	ctx := t.Context()

	istat := initInfra(t, cmdName)
	defer istat.Close(ctx)

	istat.PrepareValKey(t)
	istat.PrepareGateway(t)
	sentTo := istat.PrepareBot(t)
	istat.PrepareConfig(t)

	currdir, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	t.Chdir(istat.Procdir)

	commandCtx, cancelCommand := context.WithTimeout(ctx, 30*time.Second)
	defer cancelCommand()

	cmd := exec.CommandContext(commandCtx, filepath.Join(currdir, binary), cmdName)

	cmdOutPath := filepath.Join(currdir, cmdName+".log")
	cmdOut, err := os.Create(cmdOutPath)
	require.NoError(t, err, "failed to create a log file")
	defer cmdOut.Close()

	cmd.Stdout = cmdOut
	cmd.Stderr = cmdOut
	t.Logf("starting an app process. Logs will be saved into %s", cmdOutPath)
	require.NoError(t, cmd.Start())

	client := newAPIClient(t, istat.SocketPath)

	require.Eventually(t, func() bool {
		status, _, err := client.do(http.MethodGet, "/health", nil)
		return err == nil && status == http.StatusOK
	}, 10*time.Second, 100*time.Millisecond, "api server did not become healthy")

	status, out, err := client.do(http.MethodPost, "/auth/phone/start", map[string]string{"phoneNumber": phone})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status, out)
	assert.NotEmpty(t, out["authId"])

	// The correlation id travels in the cookie only.
	status, out, err = client.do(http.MethodPost, "/auth/phone/verify", map[string]string{"code": "12345"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, false, out["needsPassword"])
	assert.Equal(t, map[string]any{"id": "4242"}, out["user"])

	var last map[string]any
	require.Eventually(t, func() bool {
		status, out, err := client.do(http.MethodGet, "/session/export/status?phone="+url.QueryEscape(phone), nil)
		if err != nil || status != http.StatusOK {
			return false
		}
		last = out
		return out["state"] != "running"
	}, 15*time.Second, 100*time.Millisecond, "background export did not finish")

	assert.Equal(t, "succeeded", last["state"], last)
	assert.Equal(t, true, last["delivered"])
	assert.Equal(t, []string{chatID}, sentTo())

	archives, err := filepath.Glob(filepath.Join(istat.Cfg.Storage.ExportsDir, "*.zip"))
	require.NoError(t, err)
	assert.Len(t, archives, 1)

	require.NoError(t, cmd.Process.Signal(os.Interrupt))
	require.NoError(t, cmd.Wait(), "process exited abnormally")
}
