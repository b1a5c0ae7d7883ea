package httpapi

import (
	"log/slog"

	"cfszone_connect/answer_uma_provider/internal/authorize"
	"cfszone_connect/answer_uma_provider/internal/claims"
	"cfszone_connect/answer_uma_provider/internal/clientauth"
	"cfszone_connect/answer_uma_provider/internal/config"
	"cfszone_connect/answer_uma_provider/internal/events"
	"cfszone_connect/answer_uma_provider/internal/grant"
	"cfszone_connect/answer_uma_provider/internal/keys"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
	"cfszone_connect/answer_uma_provider/internal/signing"
	"cfszone_connect/answer_uma_provider/internal/store"
	"cfszone_connect/answer_uma_provider/internal/token"
	"cfszone_connect/answer_uma_provider/internal/uma"
)

type Options struct {
	Config    config.Config
	Store     store.Store
	Keys      *keys.KeySet
	Owners    resourceowner.Authenticator
	Users     UserResolver
	Publisher events.Publisher
	Logger    *slog.Logger
}

// NewHandlers wires the engine for one configuration.
func NewHandlers(opts Options) *Handlers {
	cfg := opts.Config.Normalize()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	signer := signing.NewJWTSigner(opts.Keys, cfg.Issuer)
	assembler := claims.NewAssembler(cfg.Issuer, opts.Store, opts.Store)
	minter := token.NewMinter(assembler, signer, opts.Store, token.Lifetimes{
		AccessToken:  cfg.AccessTokenTTL,
		IDToken:      cfg.IDTokenTTL,
		RefreshToken: cfg.RefreshTokenTTL,
	}, logger)
	grants := grant.NewService(grant.Dependencies{
		Clients:                   clientauth.NewAuthenticator(opts.Store, cfg.Issuer, cfg.TokenEndpoint()),
		Store:                     opts.Store,
		Assembler:                 assembler,
		Minter:                    minter,
		Owners:                    opts.Owners,
		Policies:                  uma.NewEngine(opts.Store),
		Verifier:                  signer,
		Publisher:                 opts.Publisher,
		Logger:                    logger,
		AuthorizationCodeValidity: cfg.AuthorizationCodeTTL,
		TicketValidity:            cfg.TicketTTL,
		DeviceCodeValidity:        cfg.DeviceCodeTTL,
		DevicePollInterval:        cfg.DevicePollInterval,
	})
	flow := authorize.NewFlow(authorize.Dependencies{
		Clients:    opts.Store,
		Consents:   opts.Store,
		Codes:      opts.Store,
		Minter:     minter,
		Publisher:  opts.Publisher,
		ConsentURL: cfg.ConsentURL,
	})
	return &Handlers{
		Authorize:  NewAuthorizeHandler(flow, opts.Users, logger),
		Token:      NewTokenHandler(grants, logger),
		Revoke:     NewRevokeHandler(grants, logger),
		Permission: NewPermissionHandler(grants, logger),
		Device:     NewDeviceHandler(grants, opts.Users, cfg.Issuer+cfg.BasePath+"/device", logger),
		UserInfo:   NewUserInfoHandler(signer, opts.Store, logger),
		Metadata:   NewMetadataHandler(cfg, opts.Keys, logger),
		Admin:      NewAdminClientHandler(opts.Store, logger),
	}
}
