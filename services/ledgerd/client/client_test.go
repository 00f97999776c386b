package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Agihtaws/arbminidefi/gateway/middleware"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/api"
)

func TestClientSendsIdentityAndDecodes(t *testing.T) {
	var seen *http.Request
	var body api.AmountRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(api.DepositResponse{Accrued: "0", Position: api.LenderBalance{Asset: "ETH", Principal: "1.5"}})
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", WithToken(" tok "), WithAccount("0xabc"))
	require.NoError(t, err)
	resp, err := c.Deposit(context.Background(), "ETH", "1.5")
	require.NoError(t, err)
	require.Equal(t, "1.5", resp.Position.Principal)
	require.Equal(t, "/v1/deposit", seen.URL.Path)
	require.Equal(t, "Bearer tok", seen.Header.Get("Authorization"))
	require.Equal(t, "0xabc", seen.Header.Get(middleware.AccountHeader))
	require.Equal(t, api.AmountRequest{Asset: "ETH", Amount: "1.5"}, body)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "insufficient collateral", Class: "insufficient_collateral", Reason: "Insufficient collateral provided"})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.Borrow(context.Background(), api.BorrowRequest{Asset: "USDC", Amount: "1", CollateralAsset: "ETH", CollateralAmount: "0"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	require.Equal(t, "insufficient_collateral", apiErr.Class)
	require.Contains(t, apiErr.Error(), "Insufficient collateral provided")
}

func TestClientPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.RequestURI())
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = c.History(ctx, "0xabc", 5)
	require.NoError(t, err)
	_, err = c.Limits(ctx, "0xabc")
	require.NoError(t, err)
	require.NoError(t, c.Pause(ctx))
	_, err = c.SetOracle(ctx, "manual")
	require.NoError(t, err)
	_, err = c.PublishPrice(ctx, "3010")
	require.NoError(t, err)

	require.Equal(t, []string{
		"GET /v1/accounts/0xabc/history?limit=5",
		"GET /v1/accounts/0xabc/limits",
		"POST /v1/admin/pause",
		"POST /v1/admin/oracle",
		"POST /v1/admin/price",
	}, paths)
}

func TestClientResendsWhileAccountBusy(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(payload))
		w.Header().Set("Content-Type", "application/json")
		if len(bodies) < 3 {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "operation already in progress", Class: "state", Retryable: true})
			return
		}
		_ = json.NewEncoder(w).Encode(api.RepayResponse{Owed: "1"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithBusyRetries(3, time.Millisecond))
	require.NoError(t, err)
	resp, err := c.Repay(context.Background(), "ETH", "1")
	require.NoError(t, err)
	require.Equal(t, "1", resp.Owed)
	require.Len(t, bodies, 3)
	for _, body := range bodies {
		require.JSONEq(t, `{"asset":"ETH","amount":"1"}`, body)
	}
}

func TestClientStopsResendingAfterLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "operation already in progress", Class: "state", Retryable: true})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithBusyRetries(1, time.Millisecond))
	require.NoError(t, err)
	_, err = c.Deposit(context.Background(), "ETH", "1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.True(t, apiErr.Retryable)
	require.Equal(t, 2, calls)

}

func TestClientReturnsOtherConflictsAtOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "no deposit", Class: "state"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithBusyRetries(3, time.Millisecond))
	require.NoError(t, err)
	_, err = c.Withdraw(context.Background(), "ETH", "1")
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("localhost")
	require.Error(t, err)
}
