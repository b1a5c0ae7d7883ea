package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	answerplugin "github.com/apache/answer/plugin"

	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/model"
)

const (
	kvGroupClients       = "uma_clients"
	kvGroupScopes        = "uma_scopes"
	kvGroupResourceSets  = "uma_resource_sets"
	kvGroupTickets       = "uma_tickets"
	kvGroupAuthCodes     = "uma_auth_codes"
	kvGroupAccessTokens  = "uma_access_tokens"
	kvGroupRefreshTokens = "uma_refresh_tokens"
	kvGroupTokenIndex    = "uma_token_index"
	kvGroupDevices       = "uma_device_authorizations"
	kvGroupUserCodes     = "uma_device_user_codes"
	kvGroupConsents      = "uma_consents"
	kvPageSize           = 200
)

// KVOperator is the subset of *answerplugin.KVOperator the store needs.
type KVOperator interface {
	Get(ctx context.Context, params answerplugin.KVParams) (string, error)
	Set(ctx context.Context, params answerplugin.KVParams) error
	Del(ctx context.Context, params answerplugin.KVParams) error
	GetByGroup(ctx context.Context, params answerplugin.KVParams) (map[string]string, error)
}

var _ Store = (*KVStore)(nil)

// KVStore persists records as JSON in Answer's plugin key/value table.
// Codes, tokens and tickets are keyed by their SHA-256 digest.
type KVStore struct {
	operator KVOperator
	mu       sync.Mutex
}

func NewKVStore(operator KVOperator) *KVStore {
	return &KVStore{operator: operator}
}

func (s *KVStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	client := &model.Client{}
	if err := s.getJSON(ctx, kvGroupClients, id, client); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *KVStore) ListClients(ctx context.Context) ([]*model.Client, error) {
	rows, err := s.listJSON(ctx, kvGroupClients)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Client, 0, len(rows))
	for _, raw := range rows {
		client := &model.Client{}
		if err = json.Unmarshal([]byte(raw), client); err == nil {
			out = append(out, client)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out, nil
}

func (s *KVStore) SaveClient(ctx context.Context, client *model.Client) error {
	return s.saveJSON(ctx, kvGroupClients, client.ID, client)
}

func (s *KVStore) DeleteClient(ctx context.Context, id string) error {
	return s.remove(ctx, kvGroupClients, id)
}

func (s *KVStore) GetScopes(ctx context.Context, names []string) ([]*model.Scope, error) {
	defaults := make(map[string]model.Scope)
	for _, scope := range model.DefaultScopes() {
		defaults[scope.Name] = scope
	}
	out := make([]*model.Scope, 0, len(names))
	for _, name := range names {
		scope := &model.Scope{}
		err := s.getJSON(ctx, kvGroupScopes, name, scope)
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

func (s *KVStore) SaveScope(ctx context.Context, scope *model.Scope) error {
	return s.saveJSON(ctx, kvGroupScopes, scope.Name, scope)
}

func (s *KVStore) GetResourceSet(ctx context.Context, id string) (*model.ResourceSet, error) {
	resource := &model.ResourceSet{}
	if err := s.getJSON(ctx, kvGroupResourceSets, id, resource); err != nil {
		return nil, err
	}
	return resource, nil
}

func (s *KVStore) SaveResourceSet(ctx context.Context, resource *model.ResourceSet) error {
	return s.saveJSON(ctx, kvGroupResourceSets, resource.ID, resource)
}

func (s *KVStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	ticket := &model.Ticket{}
	if err := s.getJSON(ctx, kvGroupTickets, cryptoutil.SHA256Hex(id), ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *KVStore) AddTicket(ctx context.Context, ticket *model.Ticket) error {
	return s.addJSON(ctx, kvGroupTickets, cryptoutil.SHA256Hex(ticket.ID), ticket)
}

func (s *KVStore) RemoveTicket(ctx context.Context, id string) error {
	return s.remove(ctx, kvGroupTickets, cryptoutil.SHA256Hex(id))
}

func (s *KVStore) GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	record := &model.AuthorizationCode{}
	if err := s.getJSON(ctx, kvGroupAuthCodes, cryptoutil.SHA256Hex(code), record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *KVStore) AddAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) error {
	return s.addJSON(ctx, kvGroupAuthCodes, cryptoutil.SHA256Hex(code.Code), code)
}

func (s *KVStore) RemoveAuthorizationCode(ctx context.Context, code string) error {
	return s.remove(ctx, kvGroupAuthCodes, cryptoutil.SHA256Hex(code))
}

func (s *KVStore) GetAccessToken(ctx context.Context, accessToken string) (*model.GrantedToken, error) {
	token := &model.GrantedToken{}
	if err := s.getJSON(ctx, kvGroupAccessTokens, cryptoutil.SHA256Hex(accessToken), token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *KVStore) GetRefreshToken(ctx context.Context, refreshToken string) (*model.GrantedToken, error) {
	accessHash, err := s.getRaw(ctx, kvGroupRefreshTokens, cryptoutil.SHA256Hex(refreshToken))
	if err != nil {
		return nil, err
	}
	token := &model.GrantedToken{}
	if err = s.getJSON(ctx, kvGroupAccessTokens, accessHash, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *KVStore) FindToken(ctx context.Context, clientID, subject, scope string) (*model.GrantedToken, error) {
	accessHash, err := s.getRaw(ctx, kvGroupTokenIndex, cryptoutil.SHA256Hex(tokenIndexKey(clientID, subject, scope)))
	if err != nil {
		return nil, err
	}
	token := &model.GrantedToken{}
	if err = s.getJSON(ctx, kvGroupAccessTokens, accessHash, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *KVStore) AddToken(ctx context.Context, token *model.GrantedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	accessHash := cryptoutil.SHA256Hex(token.AccessToken)
	if _, err := s.getRaw(ctx, kvGroupAccessTokens, accessHash); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.saveJSON(ctx, kvGroupAccessTokens, accessHash, token); err != nil {
		return err
	}
	if token.RefreshToken != "" {
		if err := s.setRaw(ctx, kvGroupRefreshTokens, cryptoutil.SHA256Hex(token.RefreshToken), accessHash); err != nil {
			return err
		}
	}
	indexKey := cryptoutil.SHA256Hex(tokenIndexKey(token.ClientID, token.Subject, token.Scope))
	return s.setRaw(ctx, kvGroupTokenIndex, indexKey, accessHash)
}

func (s *KVStore) RemoveAccessToken(ctx context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	accessHash := cryptoutil.SHA256Hex(accessToken)
	token := &model.GrantedToken{}
	if err := s.getJSON(ctx, kvGroupAccessTokens, accessHash, token); err != nil {
		return err
	}
	if err := s.del(ctx, kvGroupAccessTokens, accessHash); err != nil {
		return err
	}
	if token.RefreshToken != "" {
		if err := s.del(ctx, kvGroupRefreshTokens, cryptoutil.SHA256Hex(token.RefreshToken)); err != nil {
			return err
		}
	}
	indexKey := cryptoutil.SHA256Hex(tokenIndexKey(token.ClientID, token.Subject, token.Scope))
	if current, err := s.getRaw(ctx, kvGroupTokenIndex, indexKey); err == nil && current == accessHash {
		return s.del(ctx, kvGroupTokenIndex, indexKey)
	}
	return nil
}

func (s *KVStore) RemoveRefreshToken(ctx context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refreshHash := cryptoutil.SHA256Hex(refreshToken)
	accessHash, err := s.getRaw(ctx, kvGroupRefreshTokens, refreshHash)
	if err != nil {
		return err
	}
	if err = s.del(ctx, kvGroupRefreshTokens, refreshHash); err != nil {
		return err
	}
	token := &model.GrantedToken{}
	if err = s.getJSON(ctx, kvGroupAccessTokens, accessHash, token); err == nil {
		token.RefreshToken = ""
		return s.saveJSON(ctx, kvGroupAccessTokens, accessHash, token)
	}
	return nil
}

func (s *KVStore) GetDeviceAuthorization(ctx context.Context, deviceCode string) (*model.DeviceAuthorization, error) {
	auth := &model.DeviceAuthorization{}
	if err := s.getJSON(ctx, kvGroupDevices, cryptoutil.SHA256Hex(deviceCode), auth); err != nil {
		return nil, err
	}
	return auth, nil
}

// GetDeviceAuthorizationByUserCode follows the user code index to the device
// code digest.
func (s *KVStore) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*model.DeviceAuthorization, error) {
	key, err := s.getRaw(ctx, kvGroupUserCodes, cryptoutil.SHA256Hex(userCode))
	if err != nil {
		return nil, err
	}
	auth := &model.DeviceAuthorization{}
	if err = s.getJSON(ctx, kvGroupDevices, key, auth); err != nil {
		return nil, err
	}
	return auth, nil
}

func (s *KVStore) AddDeviceAuthorization(ctx context.Context, auth *model.DeviceAuthorization) error {
	key := cryptoutil.SHA256Hex(auth.DeviceCode)
	if err := s.addJSON(ctx, kvGroupDevices, key, auth); err != nil {
		return err
	}
	if auth.UserCode == "" {
		return nil
	}
	return s.setRaw(ctx, kvGroupUserCodes, cryptoutil.SHA256Hex(auth.UserCode), key)
}

func (s *KVStore) UpdateDeviceAuthorization(ctx context.Context, auth *model.DeviceAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cryptoutil.SHA256Hex(auth.DeviceCode)
	if _, err := s.getRaw(ctx, kvGroupDevices, key); err != nil {
		return err
	}
	return s.saveJSON(ctx, kvGroupDevices, key, auth)
}

func (s *KVStore) RemoveDeviceAuthorization(ctx context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cryptoutil.SHA256Hex(deviceCode)
	auth := &model.DeviceAuthorization{}
	if err := s.getJSON(ctx, kvGroupDevices, key, auth); err != nil {
		return err
	}
	if err := s.del(ctx, kvGroupDevices, key); err != nil {
		return err
	}
	if auth.UserCode != "" {
		_ = s.del(ctx, kvGroupUserCodes, cryptoutil.SHA256Hex(auth.UserCode))
	}
	return nil
}

func (s *KVStore) FindConsent(ctx context.Context, subject, clientID string) (*model.Consent, error) {
	consent := &model.Consent{}
	if err := s.getJSON(ctx, kvGroupConsents, consentKey(subject, clientID), consent); err != nil {
		return nil, err
	}
	return consent, nil
}

func (s *KVStore) SaveConsent(ctx context.Context, consent *model.Consent) error {
	return s.saveJSON(ctx, kvGroupConsents, consentKey(consent.Subject, consent.ClientID), consent)
}

// addJSON stores value only when key is free.
func (s *KVStore) addJSON(ctx context.Context, group, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getRaw(ctx, group, key); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.saveJSON(ctx, group, key, value)
}

// remove is the fetch-then-delete critical section behind single-use consumption.
func (s *KVStore) remove(ctx context.Context, group, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getRaw(ctx, group, key); err != nil {
		return err
	}
	return s.del(ctx, group, key)
}

func (s *KVStore) del(ctx context.Context, group, key string) error {
	return s.operator.Del(ctx, answerplugin.KVParams{Group: group, Key: key})
}

func (s *KVStore) saveJSON(ctx context.Context, group, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.setRaw(ctx, group, key, string(payload))
}

func (s *KVStore) setRaw(ctx context.Context, group, key, value string) error {
	return s.operator.Set(ctx, answerplugin.KVParams{Group: group, Key: key, Value: value})
}

func (s *KVStore) getJSON(ctx context.Context, group, key string, out any) error {
	raw, err := s.getRaw(ctx, group, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func (s *KVStore) getRaw(ctx context.Context, group, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := s.operator.Get(ctx, answerplugin.KVParams{Group: group, Key: key})
	if err != nil {
		if errors.Is(err, answerplugin.ErrKVKeyNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return raw, nil
}

func (s *KVStore) listJSON(ctx context.Context, group string) (map[string]string, error) {
	result := make(map[string]string)
	for page := 1; ; page++ {
		items, err := s.operator.GetByGroup(ctx, answerplugin.KVParams{
			Group:    group,
			Page:     page,
			PageSize: kvPageSize,
		})
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		for key, value := range items {
			result[key] = value
		}
		if len(items) < kvPageSize {
			break
		}
	}
	return result, nil
}
