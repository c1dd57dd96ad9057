//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-exporter/internal/config"
	"github.com/openkcm/session-exporter/internal/dbtest/valkeytest"
)

const (
	baseConfig = `application:
  name: session-exporter
  environment: integration
logger:
  level: debug
  format: json
status:
  enabled: false
`

	botToken = "123:integration"
	chatID   = "42"
)

// profileCommand fakes the converter by copying the session into the profile.
var profileCommand = []string{"sh", "-c", `mkdir -p "$2" && cp "$1" "$2/key_datas"`, "sh", "{session}", "{output}"}

type closeFunc func(ctx context.Context)

type infraStat struct {
	ConfigFilePath string
	Procdir        string
	SocketPath     string
	Cfg            config.Config

	closeFuncs []closeFunc
}

func initInfra(t *testing.T, exeName string) (istat infraStat) {
	t.Helper()

	// The config is read from $PWD/config.yaml, so every process runs in its
	// own subdirectory.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Procdir = filepath.Join(wd, exeName+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	err = os.MkdirAll(istat.Procdir, fs.ModePerm)
	require.NoError(t, err, "failed to create a dir for the process")

	err = os.WriteFile(istat.ConfigFilePath, []byte(baseConfig), fs.ModePerm)
	require.NoError(t, err, "failed to write config file")

	err = commoncfg.LoadConfig(&istat.Cfg, nil, istat.Procdir)
	require.NoError(t, err, "failed to load config")

	// Socket paths are length limited, so the socket lives in a short temp dir.
	sockDir, err := os.MkdirTemp("", "se")
	require.NoError(t, err, "failed to create a socket dir")
	istat.SocketPath = filepath.Join(sockDir, exeName+".sock")
	istat.closeFuncs = append(istat.closeFuncs, func(context.Context) { os.RemoveAll(sockDir) })

	istat.Cfg.HTTP.Address = "unix://" + istat.SocketPath
	istat.Cfg.Storage = config.Storage{
		SessionsDir: filepath.Join(istat.Procdir, "sessions"),
		ProfilesDir: filepath.Join(istat.Procdir, "profiles"),
		ExportsDir:  filepath.Join(istat.Procdir, "exports"),
	}
	istat.Cfg.Converter.Command = profileCommand

	return istat
}

func (istat *infraStat) PrepareValKey(t *testing.T) {
	t.Helper()

	vkClient, vkAddr, vkTerminate := valkeytest.Start(t.Context())
	vkClient.Close()

	istat.closeFuncs = append(istat.closeFuncs, vkTerminate)

	istat.Cfg.Auth.FlowStore = config.FlowStoreValKey
	istat.Cfg.ValKey.Host = commoncfg.SourceRef{Source: "embedded", Value: vkAddr}
}

// PrepareGateway starts a fake account gateway which creates the session
// file on the challenge and signs in any code.
func (istat *infraStat) PrepareGateway(t *testing.T) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/challenge", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionPath string `json:"sessionPath"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.NoError(t, os.WriteFile(body.SessionPath, []byte("session"), 0o600))

		_, _ = io.WriteString(w, `{"phoneCodeHash":"hash"}`)
	})
	mux.HandleFunc("POST /v1/sign-in/code", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"userId":"4242"}`)
	})

	srv := httptest.NewServer(mux)
	istat.closeFuncs = append(istat.closeFuncs, func(context.Context) { srv.Close() })

	istat.Cfg.Gateway.URL = srv.URL
	istat.Cfg.Gateway.APIHash = commoncfg.SourceRef{Source: "embedded", Value: "api-hash"}
}

// PrepareBot starts a fake Bot API and returns a function reporting the
// chats documents were sent to.
func (istat *infraStat) PrepareBot(t *testing.T) func() []string {
	t.Helper()

	var (
		mu    sync.Mutex
		chats []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bot" + botToken + "/getMe":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"exporter","username":"exporter_bot"}}`)
		case "/bot" + botToken + "/sendDocument":
			if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
				return
			}

			mu.Lock()
			chats = append(chats, r.FormValue("chat_id"))
			n := len(chats)
			mu.Unlock()

			_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":42,"type":"private"},"document":{"file_id":"f","file_unique_id":"u"}}}`, n)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
	istat.closeFuncs = append(istat.closeFuncs, func(context.Context) { srv.Close() })

	istat.Cfg.Delivery.BotToken = commoncfg.SourceRef{Source: "embedded", Value: botToken}
	istat.Cfg.Delivery.Endpoint = srv.URL + "/bot%s/%s"
	istat.Cfg.Delivery.DefaultChatID = chatID

	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), chats...)
	}
}

// PrepareConfig writes a config file for running the test into the ConfigFilePath.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	data, err := yaml.Marshal(istat.Cfg)
	require.NoError(t, err, "failed to encode config")

	err = os.WriteFile(istat.ConfigFilePath, data, 0o600)
	require.NoError(t, err, "failed to write config")
}

func (istat *infraStat) Close(ctx context.Context) {
	os.Remove(istat.ConfigFilePath)
	os.RemoveAll(istat.Procdir)

	for _, close := range istat.closeFuncs {
		close(ctx)
	}
}
