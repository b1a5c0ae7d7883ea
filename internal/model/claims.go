package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ClaimParameter is one entry of an OIDC claims request.
type ClaimParameter struct {
	Name      string   `json:"name"`
	Essential bool     `json:"essential,omitempty"`
	Value     string   `json:"value,omitempty"`
	Values    []string `json:"values,omitempty"`
}

func (p ClaimParameter) HasValue() bool {
	return p.Value != ""
}

func (p ClaimParameter) HasValues() bool {
	return len(p.Values) > 0
}

// ClaimsParameter holds the userinfo and id_token members of the claims request.
type ClaimsParameter struct {
	UserInfo []ClaimParameter `json:"userinfo,omitempty"`
	IDToken  []ClaimParameter `json:"id_token,omitempty"`
}

func (c *ClaimsParameter) HasIDToken() bool {
	return c != nil && len(c.IDToken) > 0
}

func (c *ClaimsParameter) HasUserInfo() bool {
	return c != nil && len(c.UserInfo) > 0
}

type rawClaimRequest struct {
	Essential bool  `json:"essential"`
	Value     any   `json:"value"`
	Values    []any `json:"values"`
}

// ParseClaimsParameter decodes the JSON claims request parameter. An empty
// input yields a nil parameter.
func ParseClaimsParameter(raw string) (*ClaimsParameter, error) {
	if raw == "" {
		return nil, nil
	}
	var doc struct {
		UserInfo map[string]*rawClaimRequest `json:"userinfo"`
		IDToken  map[string]*rawClaimRequest `json:"id_token"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode claims parameter: %w", err)
	}
	return &ClaimsParameter{
		UserInfo: toClaimParameters(doc.UserInfo),
		IDToken:  toClaimParameters(doc.IDToken),
	}, nil
}

func toClaimParameters(in map[string]*rawClaimRequest) []ClaimParameter {
	if len(in) == 0 {
		return nil
	}
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ClaimParameter, 0, len(in))
	for _, name := range names {
		param := ClaimParameter{Name: name}
		if req := in[name]; req != nil {
			param.Essential = req.Essential
			if req.Value != nil {
				param.Value = ClaimString(req.Value)
			}
			for _, v := range req.Values {
				param.Values = append(param.Values, ClaimString(v))
			}
		}
		out = append(out, param)
	}
	return out
}

// ClaimString renders a scalar claim value for comparisons.
func ClaimString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return fmt.Sprintf("%g", value)
	default:
		return fmt.Sprint(value)
	}
}
