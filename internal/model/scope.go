package model

import "strings"

const ScopeOpenID = "openid"

// Scope maps a scope name to the resource owner claims it releases.
type Scope struct {
	Name          string   `json:"name"`
	Claims        []string `json:"claims,omitempty"`
	IsOpenIDScope bool     `json:"is_openid_scope"`
	IsExposed     bool     `json:"is_exposed"`
}

// ResourceOwner is an authenticated subject and its claims.
type ResourceOwner struct {
	Subject string         `json:"sub"`
	Claims  map[string]any `json:"claims"`
}

// DefaultScopes are the standard OpenID Connect scopes.
func DefaultScopes() []Scope {
	return []Scope{
		{Name: "openid", Claims: []string{"sub"}, IsOpenIDScope: true, IsExposed: true},
		{Name: "profile", Claims: []string{"name", "family_name", "given_name", "middle_name", "nickname", "preferred_username", "profile", "picture", "website", "gender", "birthdate", "zoneinfo", "locale", "updated_at"}, IsOpenIDScope: true, IsExposed: true},
		{Name: "email", Claims: []string{"email", "email_verified"}, IsOpenIDScope: true, IsExposed: true},
		{Name: "address", Claims: []string{"address"}, IsOpenIDScope: true, IsExposed: true},
		{Name: "phone", Claims: []string{"phone_number", "phone_number_verified"}, IsOpenIDScope: true, IsExposed: true},
		{Name: "role", Claims: []string{"role"}, IsOpenIDScope: true, IsExposed: true},
	}
}

func SplitScope(scope string) []string {
	if strings.TrimSpace(scope) == "" {
		return nil
	}
	return NormalizeScopes(strings.Fields(scope))
}

func JoinScope(scopes []string) string {
	return strings.Join(NormalizeScopes(scopes), " ")
}

func NormalizeScopes(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, value := range input {
		t := strings.TrimSpace(value)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	return result
}

func ScopeIsSubset(required, granted []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, value := range granted {
		set[value] = struct{}{}
	}
	for _, value := range required {
		if _, ok := set[value]; !ok {
			return false
		}
	}
	return true
}
