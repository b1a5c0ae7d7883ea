package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	answerplugin "github.com/apache/answer/plugin"

	umai18n "cfszone_connect/answer_uma_provider/i18n"
)

const (
	defaultBasePath   = "/api/auth/uma"
	defaultConsentURL = "/users/authorize/consent"
)

type Config struct {
	Issuer               string
	BasePath             string
	ConsentURL           string
	AccessTokenTTL       time.Duration
	IDTokenTTL           time.Duration
	RefreshTokenTTL      time.Duration
	AuthorizationCodeTTL time.Duration
	TicketTTL            time.Duration
	DeviceCodeTTL        time.Duration
	DevicePollInterval   time.Duration
	PrivateKeyPEM        string
	DefaultScopes        []string
}

func DefaultConfig() Config {
	return Config{
		BasePath:             defaultBasePath,
		ConsentURL:           defaultConsentURL,
		AccessTokenTTL:       10 * time.Minute,
		IDTokenTTL:           10 * time.Minute,
		RefreshTokenTTL:      30 * 24 * time.Hour,
		AuthorizationCodeTTL: 5 * time.Minute,
		TicketTTL:            5 * time.Minute,
		DeviceCodeTTL:        10 * time.Minute,
		DevicePollInterval:   5 * time.Second,
		DefaultScopes:        []string{"openid", "profile", "email"},
	}
}

func (c Config) Normalize() Config {
	defaults := DefaultConfig()
	out := c
	out.Issuer = strings.TrimRight(strings.TrimSpace(out.Issuer), "/")
	if !strings.HasPrefix(out.BasePath, "/") && out.BasePath != "" {
		out.BasePath = "/" + out.BasePath
	}
	out.BasePath = strings.TrimRight(out.BasePath, "/")
	if out.BasePath == "" {
		out.BasePath = defaults.BasePath
	}
	if strings.TrimSpace(out.ConsentURL) == "" {
		out.ConsentURL = defaults.ConsentURL
	}
	durations := []struct {
		value    *time.Duration
		fallback time.Duration
	}{
		{&out.AccessTokenTTL, defaults.AccessTokenTTL},
		{&out.IDTokenTTL, defaults.IDTokenTTL},
		{&out.RefreshTokenTTL, defaults.RefreshTokenTTL},
		{&out.AuthorizationCodeTTL, defaults.AuthorizationCodeTTL},
		{&out.TicketTTL, defaults.TicketTTL},
		{&out.DeviceCodeTTL, defaults.DeviceCodeTTL},
		{&out.DevicePollInterval, defaults.DevicePollInterval},
	}
	for _, d := range durations {
		if *d.value <= 0 {
			*d.value = d.fallback
		}
	}
	if len(out.DefaultScopes) == 0 {
		out.DefaultScopes = defaults.DefaultScopes
	}
	return out
}

// WithFallbackIssuer uses the Answer site URL when no issuer is configured.
func (c Config) WithFallbackIssuer(siteURL string) Config {
	out := c.Normalize()
	if out.Issuer == "" {
		out.Issuer = strings.TrimRight(strings.TrimSpace(siteURL), "/")
	}
	if out.Issuer == "" {
		out.Issuer = "http://localhost:8080"
	}
	return out
}

// TokenEndpoint is the audience client assertions must name.
func (c Config) TokenEndpoint() string {
	return c.Issuer + c.BasePath + "/token"
}

func secondsField(name, title, description string, value time.Duration) answerplugin.ConfigField {
	return answerplugin.ConfigField{
		Name:        name,
		Type:        answerplugin.ConfigTypeInput,
		Title:       answerplugin.MakeTranslator(title),
		Description: answerplugin.MakeTranslator(description),
		Required:    true,
		Value:       fmt.Sprintf("%d", int64(value/time.Second)),
		UIOptions: answerplugin.ConfigFieldUIOptions{
			InputType: answerplugin.InputTypeNumber,
		},
	}
}

func (c Config) ToPluginConfigFields() []answerplugin.ConfigField {
	n := c.Normalize()
	return []answerplugin.ConfigField{
		{
			Name:        "issuer",
			Type:        answerplugin.ConfigTypeInput,
			Title:       answerplugin.MakeTranslator(umai18n.ConfigIssuerTitle),
			Description: answerplugin.MakeTranslator(umai18n.ConfigIssuerDescription),
			Value:       n.Issuer,
			UIOptions: answerplugin.ConfigFieldUIOptions{
				InputType: answerplugin.InputTypeUrl,
			},
		},
		{
			Name:        "base_path",
			Type:        answerplugin.ConfigTypeInput,
			Title:       answerplugin.MakeTranslator(umai18n.ConfigBasePathTitle),
			Description: answerplugin.MakeTranslator(umai18n.ConfigBasePathDescription),
			Required:    true,
			Value:       n.BasePath,
			UIOptions: answerplugin.ConfigFieldUIOptions{
				InputType: answerplugin.InputTypeText,
			},
		},
		{
			Name:        "consent_url",
			Type:        answerplugin.ConfigTypeInput,
			Title:       answerplugin.MakeTranslator(umai18n.ConfigConsentURLTitle),
			Description: answerplugin.MakeTranslator(umai18n.ConfigConsentURLDescription),
			Required:    true,
			Value:       n.ConsentURL,
			UIOptions: answerplugin.ConfigFieldUIOptions{
				InputType: answerplugin.InputTypeText,
			},
		},
		secondsField("access_token_ttl_seconds", umai18n.ConfigAccessTTLTitle, umai18n.ConfigAccessTTLDescription, n.AccessTokenTTL),
		secondsField("id_token_ttl_seconds", umai18n.ConfigIDTTLTitle, umai18n.ConfigIDTTLDescription, n.IDTokenTTL),
		secondsField("refresh_token_ttl_seconds", umai18n.ConfigRefreshTTLTitle, umai18n.ConfigRefreshTTLDescription, n.RefreshTokenTTL),
		secondsField("authorization_code_ttl_seconds", umai18n.ConfigCodeTTLTitle, umai18n.ConfigCodeTTLDescription, n.AuthorizationCodeTTL),
		secondsField("ticket_ttl_seconds", umai18n.ConfigTicketTTLTitle, umai18n.ConfigTicketTTLDescription, n.TicketTTL),
		secondsField("device_code_ttl_seconds", umai18n.ConfigDeviceTTLTitle, umai18n.ConfigDeviceTTLDescription, n.DeviceCodeTTL),
		secondsField("device_poll_interval_seconds", umai18n.ConfigDeviceIntervalTitle, umai18n.ConfigDeviceIntervalDescription, n.DevicePollInterval),
		{
			Name:        "private_key_pem",
			Type:        answerplugin.ConfigTypeTextarea,
			Title:       answerplugin.MakeTranslator(umai18n.ConfigPrivateKeyTitle),
			Description: answerplugin.MakeTranslator(umai18n.ConfigPrivateKeyDescription),
			Value:       n.PrivateKeyPEM,
			UIOptions: answerplugin.ConfigFieldUIOptions{
				Rows: "8",
			},
		},
		{
			Name:        "default_scopes",
			Type:        answerplugin.ConfigTypeInput,
			Title:       answerplugin.MakeTranslator(umai18n.ConfigDefaultScopesTitle),
			Description: answerplugin.MakeTranslator(umai18n.ConfigDefaultScopesDesc),
			Required:    true,
			Value:       strings.Join(n.DefaultScopes, " "),
			UIOptions: answerplugin.ConfigFieldUIOptions{
				InputType: answerplugin.InputTypeText,
			},
		},
	}
}

type pluginPayload struct {
	Issuer                    string `json:"issuer"`
	BasePath                  string `json:"base_path"`
	ConsentURL                string `json:"consent_url"`
	AccessTokenTTLSeconds     int64  `json:"access_token_ttl_seconds"`
	IDTokenTTLSeconds         int64  `json:"id_token_ttl_seconds"`
	RefreshTokenTTLSeconds    int64  `json:"refresh_token_ttl_seconds"`
	AuthorizationCodeTTL      int64  `json:"authorization_code_ttl_seconds"`
	TicketTTLSeconds          int64  `json:"ticket_ttl_seconds"`
	DeviceCodeTTLSeconds      int64  `json:"device_code_ttl_seconds"`
	DevicePollIntervalSeconds int64  `json:"device_poll_interval_seconds"`
	PrivateKeyPEM             string `json:"private_key_pem"`
	DefaultScopes             string `json:"default_scopes"`
}

// ParsePluginConfig applies the JSON the Answer admin UI submits on top of current.
func ParsePluginConfig(data []byte, current Config) (Config, error) {
	next := current
	if len(data) == 0 {
		return next.WithFallbackIssuer(""), nil
	}
	payload := pluginPayload{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Config{}, fmt.Errorf("decode plugin config: %w", err)
	}
	if strings.TrimSpace(payload.Issuer) != "" {
		next.Issuer = payload.Issuer
	}
	if strings.TrimSpace(payload.BasePath) != "" {
		next.BasePath = payload.BasePath
	}
	if strings.TrimSpace(payload.ConsentURL) != "" {
		next.ConsentURL = payload.ConsentURL
	}
	seconds := []struct {
		value  int64
		target *time.Duration
	}{
		{payload.AccessTokenTTLSeconds, &next.AccessTokenTTL},
		{payload.IDTokenTTLSeconds, &next.IDTokenTTL},
		{payload.RefreshTokenTTLSeconds, &next.RefreshTokenTTL},
		{payload.AuthorizationCodeTTL, &next.AuthorizationCodeTTL},
		{payload.TicketTTLSeconds, &next.TicketTTL},
		{payload.DeviceCodeTTLSeconds, &next.DeviceCodeTTL},
		{payload.DevicePollIntervalSeconds, &next.DevicePollInterval},
	}
	for _, s := range seconds {
		if s.value > 0 {
			*s.target = time.Duration(s.value) * time.Second
		}
	}
	next.PrivateKeyPEM = payload.PrivateKeyPEM
	if strings.TrimSpace(payload.DefaultScopes) != "" {
		next.DefaultScopes = strings.Fields(payload.DefaultScopes)
	}
	return next.WithFallbackIssuer(""), nil
}
