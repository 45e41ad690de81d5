package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExchangeToken(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"pp-token"}`))
	}))
	defer srv.Close()

	c := NewCopilotClient(srv.URL, "client-1", "s3cret", "env", "schema")
	token, err := c.exchangeToken(context.Background(), "caller-jwt")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if token != "pp-token" {
		t.Errorf("got token %q", token)
	}

	want := map[string]string{
		"grant_type":          "urn:ietf:params:oauth:grant-type:jwt-bearer",
		"client_id":           "client-1",
		"client_secret":       "s3cret",
		"assertion":           "caller-jwt",
		"scope":               "https://api.powerplatform.com/.default",
		"requested_token_use": "on_behalf_of",
	}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, gotForm[k], v)
		}
	}
}

func TestExchangeToken_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"denied", http.StatusUnauthorized, `{"error":"invalid_grant"}`},
		{"empty token", http.StatusOK, `{"access_token":""}`},
		{"garbage body", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewCopilotClient(srv.URL, "client-1", "s3cret", "env", "schema")
			if _, err := c.exchangeToken(context.Background(), "caller-jwt"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConversationsURL_StripsDashes(t *testing.T) {
	c := NewCopilotClient("", "", "", "a1b2-c3d4-e5f6", "cr123_agent")
	got := c.conversationsURL()
	want := "https://a1b2c3d4e5f6.environment.api.powerplatform.com/copilotstudio/dataverse-backed/authenticated/bots/cr123_agent/conversations"
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestReadActivities(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"typing"}`,
		``,
		`data: {"type":"message","text":"hello","conversation":{"id":"conv-1"}}`,
		`event: ignored`,
		`data: not json at all`,
		`data: [DONE]`,
		`data: {"type":"message","text":"bye"}`,
	}, "\n")

	var acts []activity
	err := readActivities(strings.NewReader(stream), func(act activity) {
		acts = append(acts, act)
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if len(acts) != 3 {
		t.Fatalf("expected 3 activities, got %d: %+v", len(acts), acts)
	}
	if acts[0].Type != "typing" {
		t.Errorf("first activity: %+v", acts[0])
	}
	if acts[1].Text != "hello" || acts[1].Conversation == nil || acts[1].Conversation.ID != "conv-1" {
		t.Errorf("second activity: %+v", acts[1])
	}
	if acts[2].Text != "bye" {
		t.Errorf("third activity: %+v", acts[2])
	}
}

func TestReadActivities_Empty(t *testing.T) {
	count := 0
	if err := readActivities(strings.NewReader(""), func(activity) { count++ }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no activities, got %d", count)
	}
}
