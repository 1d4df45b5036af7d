package models

import (
	"fmt"
	"net/url"
	"strings"
)

// Message roles accepted by the remote service.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// MessageTurn is one role-tagged entry of a call's conversation.
type MessageTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamDelta is one decoded step of an incremental response.
type StreamDelta struct {
	ContentFragment string
	Usage           *Usage
	IsTerminal      bool
}

// RemoteCallConfig addresses the remote text-generation service.
type RemoteCallConfig struct {
	Endpoint    string  `json:"endpoint"`
	ModelID     string  `json:"model_id"`
	Credential  string  `json:"-"`
	Temperature float64 `json:"temperature"`
}

// Validation messages returned by RemoteCallConfig.Validate.
const (
	MsgEndpointMissing    = "API endpoint is not configured"
	MsgModelMissing       = "model is not selected"
	MsgCredentialMissing  = "API key is not configured"
	MsgEndpointInvalid    = "API endpoint must be an absolute http(s) URL"
	MsgTemperatureInvalid = "temperature must be between 0 and 2"
)

// Validate returns the first problem found, checked in the order endpoint,
// model, credential, temperature. It returns "" when the config is usable.
func (c RemoteCallConfig) Validate() string {
	if strings.TrimSpace(c.Endpoint) == "" {
		return MsgEndpointMissing
	}
	if strings.TrimSpace(c.ModelID) == "" {
		return MsgModelMissing
	}
	if strings.TrimSpace(c.Credential) == "" {
		return MsgCredentialMissing
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return MsgEndpointInvalid
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return MsgTemperatureInvalid
	}
	return ""
}

// String renders the config without the credential.
func (c RemoteCallConfig) String() string {
	return fmt.Sprintf("endpoint=%s model=%s temperature=%.2f", c.Endpoint, c.ModelID, c.Temperature)
}
