package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"cfszone_connect/answer_uma_provider/internal/model"
)

const (
	keyTypeClient      = "client"
	keyTypeScope       = "scope"
	keyTypeResourceSet = "resource_set"
	keyTypeTicket      = "ticket"
	keyTypeAuthCode    = "auth_code"
	keyTypeAccess      = "access"
	keyTypeRefresh     = "refresh"
	keyTypeTokenIndex  = "token_index"
	keyTypeDevice      = "device"
	keyTypeUserCode    = "device_user_code"
	keyTypeConsent     = "consent"
	keyTypeClientSet   = "clients"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisStore shares state between several server instances. Single-use
// records are consumed with DEL, whose reply count decides the winner.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client, e.g. one pointed at miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(keyType, id string) string {
	return s.keyPrefix + keyType + ":" + id
}

func (s *RedisStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	client := &model.Client{}
	if err := s.getJSON(ctx, s.key(keyTypeClient, id), client); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *RedisStore) ListClients(ctx context.Context) ([]*model.Client, error) {
	ids, err := s.client.SMembers(ctx, s.key(keyTypeClientSet, "all")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	out := make([]*model.Client, 0, len(ids))
	for _, id := range ids {
		client, err := s.GetClient(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, client)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out, nil
}

func (s *RedisStore) SaveClient(ctx context.Context, client *model.Client) error {
	if err := s.setJSON(ctx, s.key(keyTypeClient, client.ID), client, 0); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.key(keyTypeClientSet, "all"), client.ID).Err()
}

func (s *RedisStore) DeleteClient(ctx context.Context, id string) error {
	if err := s.del(ctx, s.key(keyTypeClient, id)); err != nil {
		return err
	}
	return s.client.SRem(ctx, s.key(keyTypeClientSet, "all"), id).Err()
}

func (s *RedisStore) GetScopes(ctx context.Context, names []string) ([]*model.Scope, error) {
	defaults := make(map[string]model.Scope)
	for _, scope := range model.DefaultScopes() {
		defaults[scope.Name] = scope
	}
	out := make([]*model.Scope, 0, len(names))
	for _, name := range names {
		scope := &model.Scope{}
		err := s.getJSON(ctx, s.key(keyTypeScope, name), scope)
		switch {
		case err == nil:
			out = append(out, scope)
		case errors.Is(err, ErrNotFound):
			if def, ok := defaults[name]; ok {
				out = append(out, &def)
			}
		default:
			return nil, err
		}
	}
	return out, nil
}

func (s *RedisStore) SaveScope(ctx context.Context, scope *model.Scope) error {
	return s.setJSON(ctx, s.key(keyTypeScope, scope.Name), scope, 0)
}

func (s *RedisStore) GetResourceSet(ctx context.Context, id string) (*model.ResourceSet, error) {
	resource := &model.ResourceSet{}
	if err := s.getJSON(ctx, s.key(keyTypeResourceSet, id), resource); err != nil {
		return nil, err
	}
	return resource, nil
}

func (s *RedisStore) SaveResourceSet(ctx context.Context, resource *model.ResourceSet) error {
	return s.setJSON(ctx, s.key(keyTypeResourceSet, resource.ID), resource, 0)
}

func (s *RedisStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	ticket := &model.Ticket{}
	if err := s.getJSON(ctx, s.key(keyTypeTicket, id), ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *RedisStore) AddTicket(ctx context.Context, ticket *model.Ticket) error {
	return s.addJSON(ctx, s.key(keyTypeTicket, ticket.ID), ticket, ttlUntil(ticket.ExpiresAt))
}

func (s *RedisStore) RemoveTicket(ctx context.Context, id string) error {
	return s.del(ctx, s.key(keyTypeTicket, id))
}

func (s *RedisStore) GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	record := &model.AuthorizationCode{}
	if err := s.getJSON(ctx, s.key(keyTypeAuthCode, code), record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *RedisStore) AddAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) error {
	return s.addJSON(ctx, s.key(keyTypeAuthCode, code.Code), code, 0)
}

func (s *RedisStore) RemoveAuthorizationCode(ctx context.Context, code string) error {
	return s.del(ctx, s.key(keyTypeAuthCode, code))
}

func (s *RedisStore) GetAccessToken(ctx context.Context, accessToken string) (*model.GrantedToken, error) {
	token := &model.GrantedToken{}
	if err := s.getJSON(ctx, s.key(keyTypeAccess, accessToken), token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *RedisStore) GetRefreshToken(ctx context.Context, refreshToken string) (*model.GrantedToken, error) {
	accessToken, err := s.getString(ctx, s.key(keyTypeRefresh, refreshToken))
	if err != nil {
		return nil, err
	}
	return s.GetAccessToken(ctx, accessToken)
}

func (s *RedisStore) FindToken(ctx context.Context, clientID, subject, scope string) (*model.GrantedToken, error) {
	accessToken, err := s.getString(ctx, s.key(keyTypeTokenIndex, tokenIndexKey(clientID, subject, scope)))
	if err != nil {
		return nil, err
	}
	return s.GetAccessToken(ctx, accessToken)
}

func (s *RedisStore) AddToken(ctx context.Context, token *model.GrantedToken) error {
	ttl := tokenTTL(token)
	if err := s.addJSON(ctx, s.key(keyTypeAccess, token.AccessToken), token, ttl); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	if token.RefreshToken != "" {
		pipe.Set(ctx, s.key(keyTypeRefresh, token.RefreshToken), token.AccessToken, ttl)
	}
	pipe.Set(ctx, s.key(keyTypeTokenIndex, tokenIndexKey(token.ClientID, token.Subject, token.Scope)), token.AccessToken, ttlUntil(token.ExpiresAt()))
	if _, err := pipe.Exec(ctx); err != nil {
		_ = s.client.Del(ctx, s.key(keyTypeAccess, token.AccessToken)).Err()
		return fmt.Errorf("failed to index token: %w", err)
	}
	return nil
}

func (s *RedisStore) RemoveAccessToken(ctx context.Context, accessToken string) error {
	token, err := s.GetAccessToken(ctx, accessToken)
	if err != nil {
		return err
	}
	if err = s.del(ctx, s.key(keyTypeAccess, accessToken)); err != nil {
		return err
	}
	if token.RefreshToken != "" {
		_ = s.client.Del(ctx, s.key(keyTypeRefresh, token.RefreshToken)).Err()
	}
	indexKey := s.key(keyTypeTokenIndex, tokenIndexKey(token.ClientID, token.Subject, token.Scope))
	if current, err := s.getString(ctx, indexKey); err == nil && current == accessToken {
		_ = s.client.Del(ctx, indexKey).Err()
	}
	return nil
}

func (s *RedisStore) RemoveRefreshToken(ctx context.Context, refreshToken string) error {
	accessToken, err := s.client.GetDel(ctx, s.key(keyTypeRefresh, refreshToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove refresh token: %w", err)
	}
	token, err := s.GetAccessToken(ctx, accessToken)
	if err != nil {
		return nil
	}
	token.RefreshToken = ""
	key := s.key(keyTypeAccess, accessToken)
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = 0
	}
	return s.setJSON(ctx, key, token, ttl)
}

func (s *RedisStore) GetDeviceAuthorization(ctx context.Context, deviceCode string) (*model.DeviceAuthorization, error) {
	auth := &model.DeviceAuthorization{}
	if err := s.getJSON(ctx, s.key(keyTypeDevice, deviceCode), auth); err != nil {
		return nil, err
	}
	return auth, nil
}

func (s *RedisStore) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*model.DeviceAuthorization, error) {
	deviceCode, err := s.client.Get(ctx, s.key(keyTypeUserCode, userCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user code: %w", err)
	}
	return s.GetDeviceAuthorization(ctx, deviceCode)
}

// AddDeviceAuthorization stores the record and its user code index, both
// expiring with the device code.
func (s *RedisStore) AddDeviceAuthorization(ctx context.Context, auth *model.DeviceAuthorization) error {
	ttl := ttlUntil(auth.ExpiresAt)
	if err := s.addJSON(ctx, s.key(keyTypeDevice, auth.DeviceCode), auth, ttl); err != nil {
		return err
	}
	if auth.UserCode == "" {
		return nil
	}
	if err := s.client.Set(ctx, s.key(keyTypeUserCode, auth.UserCode), auth.DeviceCode, ttl).Err(); err != nil {
		return fmt.Errorf("failed to index user code: %w", err)
	}
	return nil
}

func (s *RedisStore) UpdateDeviceAuthorization(ctx context.Context, auth *model.DeviceAuthorization) error {
	payload, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.key(keyTypeDevice, auth.DeviceCode), payload, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to update device authorization: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) RemoveDeviceAuthorization(ctx context.Context, deviceCode string) error {
	auth, err := s.GetDeviceAuthorization(ctx, deviceCode)
	if err != nil {
		return err
	}
	if err = s.del(ctx, s.key(keyTypeDevice, deviceCode)); err != nil {
		return err
	}
	if auth.UserCode != "" {
		_ = s.client.Del(ctx, s.key(keyTypeUserCode, auth.UserCode)).Err()
	}
	return nil
}

func (s *RedisStore) FindConsent(ctx context.Context, subject, clientID string) (*model.Consent, error) {
	consent := &model.Consent{}
	if err := s.getJSON(ctx, s.key(keyTypeConsent, consentKey(subject, clientID)), consent); err != nil {
		return nil, err
	}
	return consent, nil
}

func (s *RedisStore) SaveConsent(ctx context.Context, consent *model.Consent) error {
	return s.setJSON(ctx, s.key(keyTypeConsent, consentKey(consent.Subject, consent.ClientID)), consent, 0)
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err = json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) getString(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err = s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) addJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, key, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", key, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) del(ctx context.Context, key string) error {
	removed, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// tokenTTL keeps a token record as long as either of its tokens can still be used.
func tokenTTL(token *model.GrantedToken) time.Duration {
	expires := token.ExpiresAt()
	if token.RefreshExpiresAt.After(expires) {
		expires = token.RefreshExpiresAt
	}
	return ttlUntil(expires)
}

func ttlUntil(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	ttl := time.Until(t)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
