// Package grant implements the token endpoint actions: one handler per grant
// type, plus revocation and introspection.
//
// Every handler validates its parameters, authenticates the client and checks
// what the client is registered for before touching the store. Errors are
// *oautherr.Error, except a UMA decision other than Authorized which is a
// *DeniedError.
package grant

import (
	"log/slog"
	"time"

	"cfszone_connect/answer_uma_provider/internal/claims"
	"cfszone_connect/answer_uma_provider/internal/clientauth"
	"cfszone_connect/answer_uma_provider/internal/events"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
	"cfszone_connect/answer_uma_provider/internal/signing"
	"cfszone_connect/answer_uma_provider/internal/store"
	"cfszone_connect/answer_uma_provider/internal/token"
	"cfszone_connect/answer_uma_provider/internal/uma"
)

const (
	defaultCodeValidity   = 10 * time.Minute
	defaultTicketValidity = 5 * time.Minute
	defaultDeviceValidity = 10 * time.Minute
	defaultPollInterval   = 5 * time.Second
)

// Request carries every token endpoint parameter. Handlers read only the
// fields their grant type defines.
type Request struct {
	GrantType   string
	Credentials clientauth.Instruction
	Scope       string

	Username string
	Password string

	Code         string
	RedirectURI  string
	CodeVerifier string

	RefreshToken string

	DeviceCode string

	Ticket           string
	ClaimToken       string
	ClaimTokenFormat string
}

type Dependencies struct {
	Clients   *clientauth.Authenticator
	Store     store.Store
	Assembler *claims.Assembler
	Minter    *token.Minter
	Owners    resourceowner.Authenticator
	Policies  *uma.Engine
	// Verifier validates claim tokens presented with the UMA grant.
	Verifier  signing.IDTokenVerifier
	Publisher events.Publisher
	Logger    *slog.Logger

	AuthorizationCodeValidity time.Duration
	TicketValidity            time.Duration
	DeviceCodeValidity        time.Duration
	DevicePollInterval        time.Duration
}

type Service struct {
	clients            *clientauth.Authenticator
	store              store.Store
	assembler          *claims.Assembler
	minter             *token.Minter
	owners             resourceowner.Authenticator
	policies           *uma.Engine
	verifier           signing.IDTokenVerifier
	publisher          events.Publisher
	logger             *slog.Logger
	codeValidity       time.Duration
	ticketValidity     time.Duration
	deviceValidity     time.Duration
	devicePollInterval time.Duration
	nowFn              func() time.Time
}

func NewService(deps Dependencies) *Service {
	validity := deps.AuthorizationCodeValidity
	if validity <= 0 {
		validity = defaultCodeValidity
	}
	ticketValidity := deps.TicketValidity
	if ticketValidity <= 0 {
		ticketValidity = defaultTicketValidity
	}
	deviceValidity := deps.DeviceCodeValidity
	if deviceValidity <= 0 {
		deviceValidity = defaultDeviceValidity
	}
	pollInterval := deps.DevicePollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Multi{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		clients:            deps.Clients,
		store:              deps.Store,
		assembler:          deps.Assembler,
		minter:             deps.Minter,
		owners:             deps.Owners,
		policies:           deps.Policies,
		verifier:           deps.Verifier,
		publisher:          publisher,
		logger:             logger,
		codeValidity:       validity,
		ticketValidity:     ticketValidity,
		deviceValidity:     deviceValidity,
		devicePollInterval: pollInterval,
		nowFn:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(nowFn func() time.Time) *Service {
	s.nowFn = nowFn
	return s
}

// DeniedError is a UMA decision other than Authorized. The ticket stays
// valid so the requesting party can retry with more claims or after consent.
type DeniedError struct {
	Ticket string
	Result uma.Result
}

func (e *DeniedError) Error() string {
	return "uma ticket " + e.Result.Outcome.String()
}
