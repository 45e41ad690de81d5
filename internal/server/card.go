package server

import (
	"encoding/json"
	"net/http"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
	"github.com/nextlevelbuilder/agentgate/internal/config"
)

// BuildCard composes the public agent card for the configured deployment.
// The advertised security schemes track the active auth mode.
func BuildCard(cfg *config.Config) a2a.AgentCard {
	card := a2a.AgentCard{
		Name:               "Copilot Studio Agent",
		Description:        "An agent that invokes Copilot Studio capabilities",
		URL:                cfg.BaseURL(),
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		Skills: []a2a.AgentSkill{{
			ID:          "CopilotStudioInvokeSkill",
			Name:        "Invoke Skill",
			Description: "Invokes a copilot studio agent",
			Tags:        []string{"echo", "test"},
			Examples:    []string{"hi", "hello world"},
		}},
	}

	switch cfg.AuthMode() {
	case config.AuthModeBearer:
		card.Security = []map[string][]string{{"entra": {}}}
		card.SecuritySchemes = map[string]a2a.SecurityScheme{
			"entra": {
				Type: "oauth2",
				Flows: &a2a.OAuthFlows{
					AuthorizationCode: &a2a.AuthorizationCodeOAuthFlow{
						AuthorizationURL: cfg.AuthorityURL() + "/oauth2/v2.0/authorize",
						TokenURL:         cfg.TokenURL(),
						Scopes: map[string]string{
							"api://" + cfg.ClientID + "/invoke": "Access to invoke the Copilot Studio Agent",
						},
					},
				},
			},
		}
	case config.AuthModeAPIKey:
		card.Security = []map[string][]string{{"apiKey": {}}}
		card.SecuritySchemes = map[string]a2a.SecurityScheme{
			"apiKey": {
				Type: "apiKey",
				Name: "X-API-Key",
				In:   "header",
			},
		}
	}
	return card
}

// handleCard serves the unauthenticated capability document.
func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.card)
}
