package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
)

// probe validates a running gateway from outside: it resolves the agent
// card, then sends one message with the supplied credential.
func probeCmd() *cobra.Command {
	var (
		baseURL string
		token   string
		apiKey  string
		stream  bool
	)
	cmd := &cobra.Command{
		Use:   "probe [message]",
		Short: "Send a test message to a running gateway",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := "hello"
			if len(args) > 0 {
				message = args[0]
			}
			return runProbe(baseURL, token, apiKey, message, stream)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8000", "gateway base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for OAuth mode")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for static-key mode")
	cmd.Flags().BoolVar(&stream, "stream", false, "use message/stream instead of message/send")
	return cmd
}

func runProbe(baseURL, token, apiKey, message string, stream bool) error {
	client := &http.Client{Timeout: 2 * time.Minute}
	baseURL = strings.TrimSuffix(baseURL, "/")

	card, err := fetchCard(client, baseURL)
	if err != nil {
		return fmt.Errorf("fetch agent card: %w", err)
	}
	fmt.Printf("Agent: %s (%s), streaming=%v\n", card.Name, card.Version, card.Capabilities.Streaming)

	method := a2a.MethodMessageSend
	if stream {
		method = a2a.MethodMessageStream
	}
	params := a2a.MessageSendParams{
		Message: a2a.Message{
			Kind:      "message",
			MessageID: uuid.NewString(),
			Role:      "user",
			Parts:     []a2a.Part{a2a.TextPart(message)},
		},
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	body, err := json.Marshal(a2a.Request{
		JSONRPC: a2a.JSONRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gateway answered %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if stream {
		return printEventStream(resp.Body)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func fetchCard(client *http.Client, baseURL string) (*a2a.AgentCard, error) {
	resp, err := client.Get(baseURL + a2a.AgentCardPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var card a2a.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, err
	}
	return &card, nil
}

func printEventStream(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		fmt.Println(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
	}
	return scanner.Err()
}
