package umaprovider

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	answerplugin "github.com/apache/answer/plugin"
	"github.com/gin-gonic/gin"

	umai18n "cfszone_connect/answer_uma_provider/i18n"
	"cfszone_connect/answer_uma_provider/internal/config"
	"cfszone_connect/answer_uma_provider/internal/events"
	"cfszone_connect/answer_uma_provider/internal/httpapi"
	"cfszone_connect/answer_uma_provider/internal/keys"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
	"cfszone_connect/answer_uma_provider/internal/store"
)

const (
	pluginSlug = "answer-uma-provider"
)

type UMAProviderPlugin struct {
	mu sync.RWMutex

	config   config.Config
	store    store.Store
	handlers *httpapi.Handlers
	logger   *slog.Logger
}

func init() {
	plugin := NewUMAProviderPlugin()
	answerplugin.Register(plugin)
}

func NewUMAProviderPlugin() *UMAProviderPlugin {
	cfg := config.DefaultConfig().WithFallbackIssuer(answerplugin.SiteURL())
	instance := &UMAProviderPlugin{
		config: cfg,
		logger: slog.Default().With(slog.String("plugin", pluginSlug)),
	}
	if err := instance.rebuildServices(); err != nil {
		instance.logger.Error("failed to build the authorization server", slog.Any("error", err))
	}
	return instance
}

func (p *UMAProviderPlugin) Info() answerplugin.Info {
	return answerplugin.Info{
		Name:        answerplugin.MakeTranslator(umai18n.PluginInfoName),
		SlugName:    pluginSlug,
		Description: answerplugin.MakeTranslator(umai18n.PluginInfoDescription),
		Author:      "cfszone",
		Version:     "0.3.0",
		Link:        "https://github.com/wchiways/answer_connect",
	}
}

func (p *UMAProviderPlugin) ConfigFields() []answerplugin.ConfigField {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.ToPluginConfigFields()
}

func (p *UMAProviderPlugin) ConfigReceiver(configBytes []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := config.ParsePluginConfig(configBytes, p.config)
	if err != nil {
		return err
	}
	previous := p.config
	p.config = next.WithFallbackIssuer(answerplugin.SiteURL())
	if err = p.rebuildServices(); err != nil {
		p.config = previous
		return err
	}
	return nil
}

// RegisterUnAuthRouter mounts the protocol endpoints. The authorize routes
// still need the Answer session, which the host attaches when present.
func (p *UMAProviderPlugin) RegisterUnAuthRouter(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	httpapi.RegisterPublic(r.Group(p.basePath()), p.currentHandlers)
}

func (p *UMAProviderPlugin) RegisterAuthUserRouter(r *gin.RouterGroup) {
	if r == nil {
		return
	}
}

func (p *UMAProviderPlugin) RegisterAuthAdminRouter(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	httpapi.RegisterAdmin(r.Group(p.basePath()+"/admin"), p.currentHandlers)
}

func (p *UMAProviderPlugin) SetOperator(operator *answerplugin.KVOperator) {
	if operator == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store = store.NewKVStore(operator)
	if err := p.rebuildServices(); err != nil {
		p.logger.Error("failed to build the authorization server", slog.Any("error", err))
	}
}

// rebuildServices builds a new handler generation. Callers hold p.mu, except
// the constructor.
func (p *UMAProviderPlugin) rebuildServices() error {
	keySet, err := keys.NewKeySet(p.config.PrivateKeyPEM)
	if err != nil {
		return err
	}
	if p.store == nil {
		p.store = store.NewInMemoryStore()
	}
	// Answer keeps passwords to itself, so the password grant has no users.
	owners, err := resourceowner.NewStaticAuthenticator(nil)
	if err != nil {
		return err
	}
	p.handlers = httpapi.NewHandlers(httpapi.Options{
		Config:    p.config,
		Store:     p.store,
		Keys:      keySet,
		Owners:    owners,
		Users:     httpapi.AnswerUserResolver,
		Publisher: events.NewLogPublisher(p.logger),
		Logger:    p.logger,
	})
	return nil
}

func (p *UMAProviderPlugin) basePath() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.BasePath
}

func (p *UMAProviderPlugin) currentHandlers() *httpapi.Handlers {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers
}

func (p *UMAProviderPlugin) DebugSnapshot() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg := p.config
	if cfg.PrivateKeyPEM != "" {
		cfg.PrivateKeyPEM = "[redacted]"
	}
	b, _ := json.MarshalIndent(map[string]any{
		"info":   p.Info(),
		"config": cfg,
	}, "", "  ")
	return string(b)
}

func (p *UMAProviderPlugin) HealthHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := "ok"
		if p.currentHandlers() == nil {
			status = "unavailable"
		}
		ctx.JSON(http.StatusOK, map[string]any{"status": status, "plugin": pluginSlug})
	}
}
