package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftlane/outreach-gateway/internal/core"
	"github.com/driftlane/outreach-gateway/internal/provider"
)

var testAccount = core.Account{
	ID:          "sales@driftlane.dev",
	DisplayName: "Driftlane Sales",
	Provider:    "api",
	Enabled:     true,
}

func creds(string) (string, bool) { return "test-key", true }

func TestAPISenderPostsTransmission(t *testing.T) {
	var got struct {
		Recipients []struct {
			Address struct {
				Email string `json:"email"`
			} `json:"address"`
		} `json:"recipients"`
		Content struct {
			From    map[string]string `json:"from"`
			Subject string            `json:"subject"`
			Text    string            `json:"text"`
		} `json:"content"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results":{"id":"tx-42"}}`))
	}))
	defer srv.Close()

	s := provider.NewAPISender(srv.URL, creds)
	id, err := s.Send(context.Background(), testAccount, core.SendRequest{
		Recipient: "lead@corp.com",
		Subject:   "intro",
		Body:      "hello",
	})
	require.NoError(t, err)
	require.Equal(t, "tx-42", id)
	require.Equal(t, "lead@corp.com", got.Recipients[0].Address.Email)
	require.Equal(t, "sales@driftlane.dev", got.Content.From["email"])
	require.Equal(t, "intro", got.Content.Subject)
}

func TestAPISenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	s := provider.NewAPISender(srv.URL, creds)
	_, err := s.Send(context.Background(), testAccount, core.SendRequest{Recipient: "lead@corp.com"})
	require.ErrorContains(t, err, "status 403")
}

func TestAPISenderMissingCredential(t *testing.T) {
	s := provider.NewAPISender("http://unused", func(string) (string, bool) { return "", false })
	_, err := s.Send(context.Background(), testAccount, core.SendRequest{})
	require.ErrorContains(t, err, "no credential")
}

func TestRegistryRoutesByKind(t *testing.T) {
	r := provider.NewRegistry()
	d := provider.NewDummy()
	d.FailurePercent = 0
	r.Register("dummy", d)

	acct := testAccount
	acct.Provider = "dummy"
	id, err := r.Send(context.Background(), acct, core.SendRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	acct.Provider = "smtp"
	_, err = r.Send(context.Background(), acct, core.SendRequest{})
	require.ErrorContains(t, err, "no provider registered")
}
