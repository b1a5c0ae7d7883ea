package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/tailscale/hujson"

	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
	"cfszone_connect/answer_uma_provider/internal/store"
)

// Duration decodes Go duration strings such as "10m" from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// File is the configuration of the standalone server. It is read as HuJSON,
// with ${VAR} and ${VAR:-default} expanded from the environment first.
type File struct {
	Listen        string `json:"listen"`
	MetricsListen string `json:"metrics_listen,omitempty"`
	Log           Log    `json:"log"`
	Store         Store  `json:"store"`

	Issuer               string   `json:"issuer"`
	BasePath             string   `json:"base_path,omitempty"`
	ConsentURL           string   `json:"consent_url,omitempty"`
	PrivateKeyFile       string   `json:"private_key_file,omitempty"`
	AccessTokenTTL       Duration `json:"access_token_ttl,omitempty"`
	IDTokenTTL           Duration `json:"id_token_ttl,omitempty"`
	RefreshTokenTTL      Duration `json:"refresh_token_ttl,omitempty"`
	AuthorizationCodeTTL Duration `json:"authorization_code_ttl,omitempty"`
	TicketTTL            Duration `json:"ticket_ttl,omitempty"`
	DeviceCodeTTL        Duration `json:"device_code_ttl,omitempty"`
	DevicePollInterval   Duration `json:"device_poll_interval,omitempty"`

	Clients      []Client             `json:"clients"`
	Users        []resourceowner.User `json:"users,omitempty"`
	Scopes       []model.Scope        `json:"scopes,omitempty"`
	ResourceSets []model.ResourceSet  `json:"resource_sets,omitempty"`
}

type Log struct {
	Format string `json:"format,omitempty"`
	Level  string `json:"level,omitempty"`
}

// SlogLevel parses Level, accepting the names slog prints such as "debug"
// or "warn+2". Validate has already rejected anything else.
func (l Log) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type Store struct {
	Backend string `json:"backend"`
	Redis   Redis  `json:"redis,omitempty"`
}

type Redis struct {
	Addr      string `json:"addr"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// Client is a client registration as written in the file.
type Client struct {
	ID                       string               `json:"id"`
	Name                     string               `json:"name,omitempty"`
	Secrets                  []model.ClientSecret `json:"secrets,omitempty"`
	TokenEndpointAuthMethod  model.AuthMethod     `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes               []string             `json:"grant_types"`
	ResponseTypes            []string             `json:"response_types,omitempty"`
	Scopes                   []string             `json:"scopes"`
	RedirectURIs             []string             `json:"redirect_uris,omitempty"`
	RequirePKCE              bool                 `json:"require_pkce,omitempty"`
	IDTokenSignedResponseAlg string               `json:"id_token_signed_response_alg,omitempty"`
	TokenLifetime            Duration             `json:"token_lifetime,omitempty"`
	JSONWebKeys              *jose.JSONWebKeySet  `json:"jwks,omitempty"`
	Claims                   map[string]any       `json:"claims,omitempty"`
	ClaimPatterns            []string             `json:"claim_patterns,omitempty"`
}

func (c Client) Model() *model.Client {
	return &model.Client{
		ID:                       c.ID,
		Name:                     c.Name,
		GrantTypes:               c.GrantTypes,
		ResponseTypes:            c.ResponseTypes,
		Scopes:                   c.Scopes,
		Secrets:                  c.Secrets,
		TokenEndpointAuthMethod:  c.TokenEndpointAuthMethod,
		RequirePKCE:              c.RequirePKCE,
		IDTokenSignedResponseAlg: c.IDTokenSignedResponseAlg,
		RedirectURIs:             c.RedirectURIs,
		TokenLifetime:            c.TokenLifetime.Duration(),
		JSONWebKeys:              c.JSONWebKeys,
		Claims:                   c.Claims,
		ClaimPatterns:            c.ClaimPatterns,
	}
}

// envReference matches ${VAR} only. Bare $ is left alone so bcrypt hashes
// can be written inline.
var envReference = regexp.MustCompile(`\$\{[^}]+\}`)

func ParseFile(file []byte) (*File, error) {
	expanded := envReference.ReplaceAllStringFunc(string(file), func(ref string) string {
		return getenvWithDefault(ref[2 : len(ref)-1])
	})

	standardized, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardizing config: %w", err)
	}

	f := new(File)
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	f.SetDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return f, nil
}

func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseFile(b)
}

func (f *File) SetDefaults() {
	if f.Listen == "" {
		f.Listen = "localhost:8085"
	}
	if f.Store.Backend == "" {
		f.Store.Backend = StoreMemory
	}
	if f.Log.Format == "" {
		f.Log.Format = "text"
	}
	if f.Log.Level == "" {
		f.Log.Level = "info"
	}
	for i := range f.Clients {
		if f.Clients[i].TokenEndpointAuthMethod == "" {
			f.Clients[i].TokenEndpointAuthMethod = model.AuthMethodSecretBasic
		}
	}
}

func (f *File) Validate() error {
	var validErr error

	if f.Issuer == "" {
		validErr = errors.Join(validErr, errors.New("issuer is required"))
	} else if u, err := url.Parse(f.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		validErr = errors.Join(validErr, fmt.Errorf("issuer %q must be an absolute URL", f.Issuer))
	}

	switch f.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if f.Store.Redis.Addr == "" {
			validErr = errors.Join(validErr, errors.New("store.redis.addr is required for the redis backend"))
		}
	default:
		validErr = errors.Join(validErr, fmt.Errorf("unknown store backend %q", f.Store.Backend))
	}

	switch f.Log.Format {
	case "text", "json":
	default:
		validErr = errors.Join(validErr, fmt.Errorf("unknown log format %q", f.Log.Format))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.Log.Level)); err != nil {
		validErr = errors.Join(validErr, fmt.Errorf("unknown log level %q", f.Log.Level))
	}

	seen := map[string]bool{}
	for i, c := range f.Clients {
		if c.ID == "" {
			validErr = errors.Join(validErr, fmt.Errorf("client %d: id is required", i))
			continue
		}
		if seen[c.ID] {
			validErr = errors.Join(validErr, fmt.Errorf("client %s: duplicate id", c.ID))
		}
		seen[c.ID] = true
		if len(c.GrantTypes) == 0 {
			validErr = errors.Join(validErr, fmt.Errorf("client %s: at least one grant type is required", c.ID))
		}
		needsSecret := c.TokenEndpointAuthMethod == model.AuthMethodSecretBasic ||
			c.TokenEndpointAuthMethod == model.AuthMethodSecretPost ||
			c.TokenEndpointAuthMethod == model.AuthMethodSecretJWT
		if needsSecret && len(c.Model().SecretsOfType(model.SecretTypeShared)) == 0 {
			validErr = errors.Join(validErr, fmt.Errorf("client %s: %s requires a shared secret", c.ID, c.TokenEndpointAuthMethod))
		}
		if c.TokenEndpointAuthMethod == model.AuthMethodPrivateKeyJWT && c.JSONWebKeys == nil {
			validErr = errors.Join(validErr, fmt.Errorf("client %s: private_key_jwt requires jwks", c.ID))
		}
		for _, uri := range c.RedirectURIs {
			if u, err := url.Parse(uri); err != nil || !u.IsAbs() {
				validErr = errors.Join(validErr, fmt.Errorf("client %s: redirect uri %q is not absolute", c.ID, uri))
			}
		}
	}

	for _, rs := range f.ResourceSets {
		if rs.ID == "" {
			validErr = errors.Join(validErr, errors.New("resource set id is required"))
		}
	}

	return validErr
}

// Provider projects the file onto the settings shared with the Answer plugin.
func (f *File) Provider() (Config, error) {
	c := Config{
		Issuer:               f.Issuer,
		BasePath:             f.BasePath,
		ConsentURL:           f.ConsentURL,
		AccessTokenTTL:       f.AccessTokenTTL.Duration(),
		IDTokenTTL:           f.IDTokenTTL.Duration(),
		RefreshTokenTTL:      f.RefreshTokenTTL.Duration(),
		AuthorizationCodeTTL: f.AuthorizationCodeTTL.Duration(),
		TicketTTL:            f.TicketTTL.Duration(),
		DeviceCodeTTL:        f.DeviceCodeTTL.Duration(),
		DevicePollInterval:   f.DevicePollInterval.Duration(),
	}
	if f.PrivateKeyFile != "" {
		b, err := os.ReadFile(f.PrivateKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("reading private key: %w", err)
		}
		c.PrivateKeyPEM = string(b)
	}
	return c.Normalize(), nil
}

// Seed writes the configured clients, scopes and resource sets into s. The
// standard OpenID scopes are used when the file declares none.
func (f *File) Seed(ctx context.Context, s store.Store) error {
	now := time.Now().UTC()
	for _, c := range f.Clients {
		client := c.Model()
		client.CreatedAt = now
		client.UpdatedAt = now
		if err := s.SaveClient(ctx, client); err != nil {
			return fmt.Errorf("seeding client %s: %w", c.ID, err)
		}
	}
	scopes := f.Scopes
	if len(scopes) == 0 {
		scopes = model.DefaultScopes()
	}
	for i := range scopes {
		if err := s.SaveScope(ctx, &scopes[i]); err != nil {
			return fmt.Errorf("seeding scope %s: %w", scopes[i].Name, err)
		}
	}
	for i := range f.ResourceSets {
		if err := s.SaveResourceSet(ctx, &f.ResourceSets[i]); err != nil {
			return fmt.Errorf("seeding resource set %s: %w", f.ResourceSets[i].ID, err)
		}
	}
	return nil
}

func (r Redis) StoreConfig() store.RedisConfig {
	return store.RedisConfig{
		Addr:      r.Addr,
		Username:  r.Username,
		Password:  r.Password,
		DB:        r.DB,
		KeyPrefix: r.KeyPrefix,
	}
}

// getenvWithDefault maps FOO:-default to $FOO or default if $FOO is unset or
// null.
func getenvWithDefault(key string) string {
	parts := strings.SplitN(key, ":-", 2)
	val := os.Getenv(parts[0])
	if val == "" && len(parts) == 2 {
		val = parts[1]
	}
	return val
}
