package a2a

// AgentCardPath is the unauthenticated discovery path for the agent card.
const AgentCardPath = "/.well-known/agent-card.json"

// AgentCard is the public, unauthenticated description of the agent endpoint.
type AgentCard struct {
	Name               string                    `json:"name"`
	Description        string                    `json:"description"`
	URL                string                    `json:"url"`
	Version            string                    `json:"version"`
	DefaultInputModes  []string                  `json:"defaultInputModes"`
	DefaultOutputModes []string                  `json:"defaultOutputModes"`
	Capabilities       AgentCapabilities         `json:"capabilities"`
	Skills             []AgentSkill              `json:"skills"`
	Security           []map[string][]string     `json:"security,omitempty"`
	SecuritySchemes    map[string]SecurityScheme `json:"securitySchemes,omitempty"`
}

// AgentCapabilities flags optional protocol features the agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming,omitempty"`
	PushNotifications      bool `json:"pushNotifications,omitempty"`
	StateTransitionHistory bool `json:"stateTransitionHistory,omitempty"`
}

// AgentSkill is one advertised unit of capability.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples,omitempty"`
}

// SecurityScheme describes one way of authenticating against the agent.
// Fields cover both the apiKey and oauth2 variants; unset fields are omitted.
type SecurityScheme struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Name        string      `json:"name,omitempty"`
	In          string      `json:"in,omitempty"`
	Flows       *OAuthFlows `json:"flows,omitempty"`
}

// OAuthFlows holds the OAuth2 flow configurations offered by a scheme.
type OAuthFlows struct {
	AuthorizationCode *AuthorizationCodeOAuthFlow `json:"authorizationCode,omitempty"`
}

// AuthorizationCodeOAuthFlow configures the authorization-code flow.
type AuthorizationCodeOAuthFlow struct {
	AuthorizationURL string            `json:"authorizationUrl"`
	TokenURL         string            `json:"tokenUrl"`
	Scopes           map[string]string `json:"scopes"`
}
