package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/auth"
)

const powerPlatformScope = "https://api.powerplatform.com/.default"

// CopilotClient is the Copilot Studio implementation of Adapter. Each call
// exchanges the caller's token on-behalf-of for a Power Platform token, then
// talks to the environment's conversation API.
type CopilotClient struct {
	tokenURL      string
	clientID      string
	clientSecret  string
	environmentID string
	agentSchema   string
	httpClient    *http.Client
}

// NewCopilotClient builds the client from the tenant's token endpoint and the
// target environment/agent identifiers.
func NewCopilotClient(tokenURL, clientID, clientSecret, environmentID, agentSchema string) *CopilotClient {
	return &CopilotClient{
		tokenURL:      tokenURL,
		clientID:      clientID,
		clientSecret:  clientSecret,
		environmentID: environmentID,
		agentSchema:   agentSchema,
		httpClient:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// exchangeToken performs the OAuth2 on-behalf-of grant: the caller's bearer
// token becomes a Power Platform access token.
func (c *CopilotClient) exchangeToken(ctx context.Context, credential string) (string, error) {
	form := url.Values{
		"grant_type":          {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"client_id":           {c.clientID},
		"client_secret":       {c.clientSecret},
		"assertion":           {credential},
		"scope":               {powerPlatformScope},
		"requested_token_use": {"on_behalf_of"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned no access token")
	}
	return tok.AccessToken, nil
}

func (c *CopilotClient) conversationsURL() string {
	return fmt.Sprintf(
		"https://%s.environment.api.powerplatform.com/copilotstudio/dataverse-backed/authenticated/bots/%s/conversations",
		strings.ReplaceAll(c.environmentID, "-", ""), c.agentSchema)
}

// activity is the wire shape of one conversation event.
type activity struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	Conversation *struct {
		ID string `json:"id"`
	} `json:"conversation,omitempty"`
}

// CreateConversation starts a remote conversation and returns its id.
func (c *CopilotClient) CreateConversation(ctx context.Context, credential string) (string, error) {
	token, err := c.exchangeToken(ctx, credential)
	if err != nil {
		return "", err
	}

	body, err := c.stream(ctx, c.conversationsURL()+"?api-version=2022-03-01-preview", token, map[string]any{
		"emitStartConversationEvent": true,
	})
	if err != nil {
		return "", fmt.Errorf("start conversation: %w", err)
	}
	defer body.Close()

	var conversationID string
	if err := readActivities(body, func(act activity) {
		if act.Conversation != nil && act.Conversation.ID != "" {
			conversationID = act.Conversation.ID
		}
	}); err != nil {
		return "", fmt.Errorf("read conversation start: %w", err)
	}
	if conversationID == "" {
		return "", fmt.Errorf("conversation start returned no id")
	}

	slog.Info("remote conversation created", "conversation", conversationID)
	return conversationID, nil
}

// Ask sends a question to the conversation and streams back reply events.
// The caller's credential travels in ctx (set by the auth middleware).
func (c *CopilotClient) Ask(ctx context.Context, conversationID, text string) (<-chan ReplyEvent, error) {
	credential := auth.CredentialFromContext(ctx)
	if credential == "" {
		return nil, fmt.Errorf("no caller credential in request context")
	}
	token, err := c.exchangeToken(ctx, credential)
	if err != nil {
		return nil, err
	}

	askURL := fmt.Sprintf("%s/%s?api-version=2022-03-01-preview", c.conversationsURL(), conversationID)
	body, err := c.stream(ctx, askURL, token, map[string]any{
		"activity": map[string]any{
			"type": "message",
			"text": text,
			"conversation": map[string]any{
				"id": conversationID,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}

	out := make(chan ReplyEvent, 8)
	go func() {
		defer close(out)
		defer body.Close()
		err := readActivities(body, func(act activity) {
			ev := ReplyEvent{Type: act.Type, Text: act.Text}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("reply stream ended with error", "conversation", conversationID, "error", err)
		}
	}()
	return out, nil
}

// stream POSTs payload and returns the response body, which carries
// newline-delimited "data:" events.
func (c *CopilotClient) stream(ctx context.Context, u, token string, payload any) (io.ReadCloser, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp.Body, nil
}

// readActivities parses an event stream, invoking fn per decoded activity.
// Malformed events are skipped.
func readActivities(r io.Reader, fn func(activity)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var act activity
		if err := json.Unmarshal([]byte(data), &act); err != nil {
			slog.Debug("skipping malformed activity", "error", err)
			continue
		}
		fn(act)
	}
	return scanner.Err()
}
