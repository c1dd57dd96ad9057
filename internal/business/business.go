package business

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-exporter/internal/account"
	"github.com/openkcm/session-exporter/internal/archive"
	"github.com/openkcm/session-exporter/internal/auth"
	"github.com/openkcm/session-exporter/internal/authgateway"
	"github.com/openkcm/session-exporter/internal/background"
	"github.com/openkcm/session-exporter/internal/business/server"
	"github.com/openkcm/session-exporter/internal/config"
	"github.com/openkcm/session-exporter/internal/convert"
	"github.com/openkcm/session-exporter/internal/delivery"
	"github.com/openkcm/session-exporter/internal/export"
	"github.com/openkcm/session-exporter/internal/lockreg"
	"github.com/openkcm/session-exporter/internal/transient"

	authmemory "github.com/openkcm/session-exporter/internal/auth/memory"
	authvalkey "github.com/openkcm/session-exporter/internal/auth/valkey"
)

// Main starts the HTTP API. Once ctx is done it waits for the running
// background exports, bounded by the HTTP shutdown timeout.
func Main(ctx context.Context, cfg *config.Config) error {
	c, closeFn, err := initComponents(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the components: %w", err)
	}
	defer closeFn()

	api := server.NewAPI(c.manager, c.pipeline, c.board, cfg.Auth.Cookie, cfg.Delivery.DefaultChatID)
	serveErr := server.StartHTTPServer(ctx, cfg, api)

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := c.launcher.Shutdown(shutdownCtx); err != nil {
		slogctx.Warn(ctx, "Background exports still running at shutdown", "error", err)
	}

	return serveErr
}

type components struct {
	pipeline *export.Pipeline
	board    *background.Board
	launcher *background.Launcher
	manager  *auth.Manager
}

// initComponents wires the process wide registries. The lock registry is
// shared by the login steps and the exports so that both serialise on the
// same resource keys.
func initComponents(ctx context.Context, cfg *config.Config) (_ *components, closeFn func(), _ error) {
	locks := lockreg.New()

	pipeline, layout, err := initPipeline(ctx, cfg, locks)
	if err != nil {
		return nil, nil, err
	}

	ttl := flowTTL(cfg)
	flows, closeFlows, err := initFlowRepository(ctx, cfg, ttl)
	if err != nil {
		return nil, nil, err
	}

	provider, err := initProvider(cfg)
	if err != nil {
		closeFlows()
		return nil, nil, err
	}

	metricsSink, err := background.NewMetricsSink(server.Meter(cfg))
	if err != nil {
		closeFlows()
		return nil, nil, fmt.Errorf("creating export meters: %w", err)
	}

	if cfg.Delivery.DefaultChatID == "" {
		slogctx.Warn(ctx, "No default chat id configured, background exports are archived only")
	}

	board := background.NewBoard(cfg.Export.StatusRetention, layout.ResourceKey)
	launcher := background.NewLauncher(pipeline,
		background.WithJob(cfg.Delivery.DefaultChatID, !cfg.Export.SkipSession),
		background.WithSinks(board, background.LogSink{}, metricsSink),
	)

	manager := auth.NewManager(provider, flows, locks, layout,
		auth.WithTrigger(func(ctx context.Context, identifier string) {
			launcher.Trigger(ctx, identifier)
		}),
		auth.WithCodeLength(cfg.Auth.CodeLength),
		auth.WithFlowTTL(ttl),
	)

	return &components{
		pipeline: pipeline,
		board:    board,
		launcher: launcher,
		manager:  manager,
	}, closeFlows, nil
}

// flowTTL is the single lifetime of the flows and of the correlation cookie.
func flowTTL(cfg *config.Config) time.Duration {
	if cfg.Auth.FlowTTL <= 0 {
		return auth.DefaultFlowTTL
	}

	return cfg.Auth.FlowTTL
}

func initPipeline(ctx context.Context, cfg *config.Config, locks *lockreg.Registry) (*export.Pipeline, account.Layout, error) {
	layout := account.NewLayout(cfg.Storage.SessionsDir, cfg.Storage.ProfilesDir, cfg.Storage.ExportsDir)
	if err := layout.Ensure(); err != nil {
		return nil, account.Layout{}, fmt.Errorf("preparing storage: %w", err)
	}

	if len(cfg.Converter.Command) == 0 {
		slogctx.Warn(ctx, "No converter command configured, conversions will fail")
	}

	deliv, err := initDelivery(cfg)
	if err != nil {
		return nil, account.Layout{}, err
	}

	pipeline := export.NewPipeline(
		layout,
		locks,
		convert.NewCommand(cfg.Converter.Command, cfg.Converter.Env...),
		archive.NewZipper(),
		deliv,
	)

	return pipeline, layout, nil
}

func initDelivery(cfg *config.Config) (*delivery.Telegram, error) {
	token, err := loadOptionalValue(cfg.Delivery.BotToken)
	if err != nil {
		return nil, fmt.Errorf("loading bot token: %w", err)
	}

	opts := []delivery.Option{
		delivery.WithEndpoint(cfg.Delivery.Endpoint),
		delivery.WithRetries(cfg.Delivery.Retries, cfg.Delivery.RetryBaseDelay),
	}
	if cfg.Delivery.Timeout > 0 {
		opts = append(opts, delivery.WithHTTPClient(&http.Client{Timeout: cfg.Delivery.Timeout}))
	}

	return delivery.NewTelegram(token, opts...), nil
}

func initFlowRepository(ctx context.Context, cfg *config.Config, ttl time.Duration) (auth.FlowRepository, func(), error) {
	switch cfg.Auth.FlowStore {
	case config.FlowStoreMemory, "":
		slogctx.Info(ctx, "Keeping authentication flows in memory", "ttl", ttl)
		return authmemory.NewRepository(transient.WithTTL(ttl)), func() {}, nil
	case config.FlowStoreValKey:
		client, err := authvalkey.NewClient(cfg.ValKey)
		if err != nil {
			return nil, nil, err
		}

		slogctx.Info(ctx, "Keeping authentication flows in valkey", "ttl", ttl, "prefix", cfg.ValKey.Prefix)
		return authvalkey.NewRepository(client, cfg.ValKey.Prefix, ttl), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown flow store %q", cfg.Auth.FlowStore)
	}
}

func initProvider(cfg *config.Config) (*authgateway.Client, error) {
	apiHash, err := loadOptionalValue(cfg.Gateway.APIHash)
	if err != nil {
		return nil, fmt.Errorf("loading gateway api hash: %w", err)
	}

	httpClient, err := loadHTTPClient(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("loading http client: %w", err)
	}

	client, err := authgateway.NewClient(cfg.Gateway.URL, authgateway.Credentials{
		APIID:   cfg.Gateway.APIID,
		APIHash: apiHash,
	}, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating gateway client: %w", err)
	}

	return client, nil
}

func loadHTTPClient(gw config.Gateway) (*http.Client, error) {
	switch gw.SecretRef.Type {
	case commoncfg.MTLSSecretType:
		tlsConfig, err := commoncfg.LoadMTLSConfig(&gw.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading mTLS config: %w", err)
		}

		return &http.Client{
			Timeout: gw.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		}, nil
	case "":
		return &http.Client{Timeout: gw.Timeout}, nil
	default:
		return nil, fmt.Errorf("unsupported gateway secret type %q", gw.SecretRef.Type)
	}
}

// loadOptionalValue returns an empty value for an unset reference.
func loadOptionalValue(ref commoncfg.SourceRef) (string, error) {
	if ref.Source == "" {
		return "", nil
	}

	value, err := commoncfg.LoadValueFromSourceRef(ref)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(value)), nil
}
