package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftlane/outreach-gateway/internal/core"
	httpapi "github.com/driftlane/outreach-gateway/internal/http"
	"github.com/driftlane/outreach-gateway/internal/pacer"
	"github.com/driftlane/outreach-gateway/internal/provider"
	"github.com/driftlane/outreach-gateway/internal/store"
)

func startAPI(t *testing.T) http.Handler {
	st := store.StartTestPostgres(t)

	reg, err := core.NewRegistry([]core.Account{
		{ID: "alpha", DisplayName: "Alpha Outreach", Provider: "dummy", Priority: 1, DailyLimit: 100, Enabled: true},
		{ID: "beta", DisplayName: "Beta Outreach", Provider: "dummy", Priority: 2, DailyLimit: 100, Enabled: true},
	})
	require.NoError(t, err)

	provs := provider.NewRegistry()
	provs.Register("dummy", &provider.Dummy{FailurePercent: 0})

	disp := core.NewDispatcher(reg, st, pacer.New(nil), provs, core.DispatcherOptions{
		Strategy: core.StrategyPriority,
	}, nil)

	return httpapi.NewServer(st, disp, reg, st).Router()
}

func TestEnqueueListGet_Idempotent(t *testing.T) {
	h := startAPI(t)

	// 1) enqueue with an idempotency key
	body := bytes.NewBufferString(`{"recipient":"lead@example.com","subject":"hi","body":"hello","target_key":"example.com"}`)
	req := httptest.NewRequest("POST", "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "k1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	var msgResp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &msgResp)
	firstID := msgResp["id"]
	require.NotEmpty(t, firstID)

	// Repeat same request → must be 200 with same id
	body = bytes.NewBufferString(`{"recipient":"lead@example.com","subject":"hi","body":"hello","target_key":"example.com"}`)
	req = httptest.NewRequest("POST", "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "k1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	_ = json.Unmarshal(w.Body.Bytes(), &msgResp)
	require.Equal(t, firstID, msgResp["id"])

	// 2) message is visible in the listing, still queued
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/messages?status=queued&limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []store.OutboxMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, firstID, list.Items[0].ID)

	// 3) fetch by id
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/messages/"+firstID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/messages/00000000-0000-0000-0000-000000000000", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	// 4) missing recipient is rejected
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/messages", bytes.NewBufferString(`{"body":"x"}`))
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDispatchNow_AndAccountUsage(t *testing.T) {
	h := startAPI(t)

	// Synchronous dispatch goes to alpha (highest priority).
	body := bytes.NewBufferString(`{"recipient":"lead@example.com","subject":"hi","body":"hello","target_key":"example.com"}`)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/dispatch", body))
	require.Equal(t, http.StatusOK, w.Code)
	var res core.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, "alpha", res.AccountUsed)
	require.NotEmpty(t, res.MessageID)

	// Unknown preferred account → 404.
	body = bytes.NewBufferString(`{"recipient":"lead@example.com","body":"hello","preferred_account_id":"ghost"}`)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/dispatch", body))
	require.Equal(t, http.StatusNotFound, w.Code)

	// /accounts reflects the successful send.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/accounts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var acctResp struct {
		Accounts []struct {
			ID        string `json:"id"`
			SentToday int    `json:"sent_today"`
		} `json:"accounts"`
		SentTodayTotal int `json:"sent_today_total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acctResp))
	require.Equal(t, 1, acctResp.SentTodayTotal)
	byID := map[string]int{}
	for _, a := range acctResp.Accounts {
		byID[a.ID] = a.SentToday
	}
	require.Equal(t, 1, byID["alpha"])
	require.Equal(t, 0, byID["beta"])
}
