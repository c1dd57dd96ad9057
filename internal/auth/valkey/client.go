package authvalkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/session-exporter/internal/config"
)

// NewClient connects to the configured valkey server.
func NewClient(cfg config.ValKey) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := loadOptional(cfg.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := loadOptional(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{strings.TrimSpace(string(valkeyHost))},
		Username:    valkeyUsername,
		Password:    valkeyPassword,
	}

	if cfg.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}

// Ping reports whether the server answers.
func Ping(ctx context.Context, client valkey.Client) error {
	return client.Do(ctx, client.B().Ping().Build()).Error()
}

func loadOptional(ref commoncfg.SourceRef) (string, error) {
	if ref.Source == "" {
		return "", nil
	}

	value, err := commoncfg.LoadValueFromSourceRef(ref)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(value)), nil
}
