package authvalkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/session-exporter/internal/auth"
)

type store struct {
	valkey valkey.Client
	prefix string
	ttl    time.Duration
}

func newStore(valkeyClient valkey.Client, prefix string, ttl time.Duration) *store {
	prefix = strings.TrimSuffix(prefix, ":")
	return &store{
		valkey: valkeyClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Set writes the value and restarts its lifetime.
func (s *store) Set(ctx context.Context, objectType, id string, val any) error {
	key := s.key(objectType, id)
	bytes, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	cmd := s.valkey.B().Set().Key(key).Value(valkey.BinaryString(bytes)).PxMilliseconds(s.ttl.Milliseconds()).Build()
	if err := s.valkey.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

func (s *store) Get(ctx context.Context, objectType, id string, decodeInto any) error {
	key := s.key(objectType, id)
	return s.decode(s.valkey.Do(ctx, s.valkey.B().Get().Key(key).Build()), decodeInto)
}

// GetDel reads and removes the value in one command.
func (s *store) GetDel(ctx context.Context, objectType, id string, decodeInto any) error {
	key := s.key(objectType, id)
	return s.decode(s.valkey.Do(ctx, s.valkey.B().Getdel().Key(key).Build()), decodeInto)
}

func (s *store) decode(res valkey.ValkeyResult, into any) error {
	bytes, err := res.AsBytes()
	if err != nil {
		valkeyErr, ok := valkey.IsValkeyErr(err)
		if ok && valkeyErr.IsNil() {
			return auth.ErrFlowNotFound
		}

		return fmt.Errorf("executing command: %w", err)
	}

	if err := json.Unmarshal(bytes, into); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}

	return nil
}

func (s *store) key(objectType string, objectID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectType, objectID)
}
