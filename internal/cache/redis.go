package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// DefaultRetention bounds how long a stale entry is kept around for
// stale-while-revalidate serving before the backend drops it outright.
const DefaultRetention = 24 * time.Hour

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	// Retention is the hard ceiling on entry lifetime in the backend.
	// Freshness is tracked inside the entry, not via backend expiry, so
	// stale entries survive long enough to be served while regenerating.
	Retention time.Duration
	TLS       RedisTLSConfig
}

type redisStore struct {
	client    valkey.Client
	retention time.Duration
}

// NewRedis connects a Valkey/Redis-backed store. The backend only enforces
// the retention ceiling; freshness decisions stay with the coordinator.
func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &redisStore{client: client, retention: retention}, nil
}

func (s *redisStore) Read(ctx context.Context, key Key) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(string(key)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (s *redisStore) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(string(entry.Key)).Value(string(payload)).Px(s.retention).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (s *redisStore) Remove(ctx context.Context, key Key) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(string(key)).Build()).Error(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

// markStaleScript rewrites freshUntil server-side so the whole
// read-modify-write is one atomic script execution. A client-side GET/SET
// pair could interleave with a concurrent commit and resurrect the entry it
// just replaced. Missing keys are skipped, retention is preserved.
var markStaleScript = valkey.NewLuaScript(`
local payload = redis.call('GET', KEYS[1])
if not payload then
  return 0
end
local entry = cjson.decode(payload)
entry['freshUntil'] = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(entry), 'KEEPTTL')
return 1
`)

func (s *redisStore) MarkStale(ctx context.Context, keys []Key, at time.Time) error {
	stamp := at.UTC().Format(time.RFC3339Nano)
	for _, key := range keys {
		resp := markStaleScript.Exec(ctx, s.client, []string{string(key)}, []string{stamp})
		if err := resp.Error(); err != nil {
			return fmt.Errorf("cache: redis mark stale: %w", err)
		}
	}
	return nil
}

func (s *redisStore) Len(ctx context.Context) (int64, error) {
	resp := s.client.Do(ctx, s.client.B().Dbsize().Build())
	size, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("cache: redis dbsize: %w", err)
	}
	return size, nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
