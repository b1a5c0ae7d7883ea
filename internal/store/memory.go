package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"cfszone_connect/answer_uma_provider/internal/model"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps every record in process memory behind a single lock.
type InMemoryStore struct {
	mu            sync.RWMutex
	clients       map[string]model.Client
	scopes        map[string]model.Scope
	resourceSets  map[string]model.ResourceSet
	tickets       map[string]model.Ticket
	authCodes     map[string]model.AuthorizationCode
	accessTokens  map[string]model.GrantedToken
	refreshTokens map[string]string
	tokenIndex    map[string]string
	devices       map[string]model.DeviceAuthorization
	consents      map[string]model.Consent
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{
		clients:       make(map[string]model.Client),
		scopes:        make(map[string]model.Scope),
		resourceSets:  make(map[string]model.ResourceSet),
		tickets:       make(map[string]model.Ticket),
		authCodes:     make(map[string]model.AuthorizationCode),
		accessTokens:  make(map[string]model.GrantedToken),
		refreshTokens: make(map[string]string),
		tokenIndex:    make(map[string]string),
		devices:       make(map[string]model.DeviceAuthorization),
		consents:      make(map[string]model.Consent),
	}
	for _, scope := range model.DefaultScopes() {
		s.scopes[scope.Name] = scope
	}
	return s
}

func (s *InMemoryStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &client, nil
}

func (s *InMemoryStore) ListClients(ctx context.Context) ([]*model.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Client, 0, len(s.clients))
	for _, client := range s.clients {
		c := client
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out, nil
}

func (s *InMemoryStore) SaveClient(ctx context.Context, client *model.Client) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = *client
	return nil
}

func (s *InMemoryStore) DeleteClient(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return ErrNotFound
	}
	delete(s.clients, id)
	return nil
}

func (s *InMemoryStore) GetScopes(ctx context.Context, names []string) ([]*model.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Scope, 0, len(names))
	for _, name := range names {
		if scope, ok := s.scopes[name]; ok {
			out = append(out, &scope)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveScope(ctx context.Context, scope *model.Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scope.Name] = *scope
	return nil
}

func (s *InMemoryStore) GetResourceSet(ctx context.Context, id string) (*model.ResourceSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	resource, ok := s.resourceSets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &resource, nil
}

func (s *InMemoryStore) SaveResourceSet(ctx context.Context, resource *model.ResourceSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceSets[resource.ID] = *resource
	return nil
}

func (s *InMemoryStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ticket, nil
}

func (s *InMemoryStore) AddTicket(ctx context.Context, ticket *model.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticket.ID]; ok {
		return ErrAlreadyExists
	}
	s.tickets[ticket.ID] = *ticket
	return nil
}

func (s *InMemoryStore) RemoveTicket(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return ErrNotFound
	}
	delete(s.tickets, id)
	return nil
}

func (s *InMemoryStore) GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.authCodes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *InMemoryStore) AddAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authCodes[code.Code]; ok {
		return ErrAlreadyExists
	}
	s.authCodes[code.Code] = *code
	return nil
}

func (s *InMemoryStore) RemoveAuthorizationCode(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authCodes[code]; !ok {
		return ErrNotFound
	}
	delete(s.authCodes, code)
	return nil
}

func (s *InMemoryStore) GetAccessToken(ctx context.Context, accessToken string) (*model.GrantedToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.accessTokens[accessToken]
	if !ok {
		return nil, ErrNotFound
	}
	return &token, nil
}

func (s *InMemoryStore) GetRefreshToken(ctx context.Context, refreshToken string) (*model.GrantedToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	accessToken, ok := s.refreshTokens[refreshToken]
	if !ok {
		return nil, ErrNotFound
	}
	token, ok := s.accessTokens[accessToken]
	if !ok {
		return nil, ErrNotFound
	}
	return &token, nil
}

func (s *InMemoryStore) FindToken(ctx context.Context, clientID, subject, scope string) (*model.GrantedToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	accessToken, ok := s.tokenIndex[tokenIndexKey(clientID, subject, scope)]
	if !ok {
		return nil, ErrNotFound
	}
	token, ok := s.accessTokens[accessToken]
	if !ok {
		return nil, ErrNotFound
	}
	return &token, nil
}

func (s *InMemoryStore) AddToken(ctx context.Context, token *model.GrantedToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accessTokens[token.AccessToken]; ok {
		return ErrAlreadyExists
	}
	s.accessTokens[token.AccessToken] = *token
	if token.RefreshToken != "" {
		s.refreshTokens[token.RefreshToken] = token.AccessToken
	}
	s.tokenIndex[tokenIndexKey(token.ClientID, token.Subject, token.Scope)] = token.AccessToken
	return nil
}

func (s *InMemoryStore) RemoveAccessToken(ctx context.Context, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.accessTokens[accessToken]
	if !ok {
		return ErrNotFound
	}
	delete(s.accessTokens, accessToken)
	if token.RefreshToken != "" {
		delete(s.refreshTokens, token.RefreshToken)
	}
	key := tokenIndexKey(token.ClientID, token.Subject, token.Scope)
	if s.tokenIndex[key] == accessToken {
		delete(s.tokenIndex, key)
	}
	return nil
}

// RemoveRefreshToken invalidates the refresh token only; the access token it
// was issued with stays valid until it expires.
func (s *InMemoryStore) RemoveRefreshToken(ctx context.Context, refreshToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	accessToken, ok := s.refreshTokens[refreshToken]
	if !ok {
		return ErrNotFound
	}
	delete(s.refreshTokens, refreshToken)
	if token, ok := s.accessTokens[accessToken]; ok {
		token.RefreshToken = ""
		s.accessTokens[accessToken] = token
	}
	return nil
}

func (s *InMemoryStore) GetDeviceAuthorization(ctx context.Context, deviceCode string) (*model.DeviceAuthorization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	auth, ok := s.devices[deviceCode]
	if !ok {
		return nil, ErrNotFound
	}
	return &auth, nil
}

func (s *InMemoryStore) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*model.DeviceAuthorization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, auth := range s.devices {
		if auth.UserCode == userCode {
			return &auth, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) AddDeviceAuthorization(ctx context.Context, auth *model.DeviceAuthorization) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[auth.DeviceCode]; ok {
		return ErrAlreadyExists
	}
	s.devices[auth.DeviceCode] = *auth
	return nil
}

func (s *InMemoryStore) UpdateDeviceAuthorization(ctx context.Context, auth *model.DeviceAuthorization) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[auth.DeviceCode]; !ok {
		return ErrNotFound
	}
	s.devices[auth.DeviceCode] = *auth
	return nil
}

func (s *InMemoryStore) RemoveDeviceAuthorization(ctx context.Context, deviceCode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceCode]; !ok {
		return ErrNotFound
	}
	delete(s.devices, deviceCode)
	return nil
}

func (s *InMemoryStore) FindConsent(ctx context.Context, subject, clientID string) (*model.Consent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	consent, ok := s.consents[consentKey(subject, clientID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &consent, nil
}

func (s *InMemoryStore) SaveConsent(ctx context.Context, consent *model.Consent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents[consentKey(consent.Subject, consent.ClientID)] = *consent
	return nil
}

func tokenIndexKey(clientID, subject, scope string) string {
	scopes := model.SplitScope(scope)
	sort.Strings(scopes)
	return clientID + "::" + subject + "::" + strings.Join(scopes, " ")
}

func consentKey(subject, clientID string) string {
	return clientID + "::" + subject
}
