package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "ledger-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func captureCaller(got *common.Address, scopes *[]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if account, ok := Caller(r.Context()); ok {
			*got = account
		}
		*scopes = Scopes(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorResolvesSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "ledger", Audience: "api"}, nil)
	var caller common.Address
	var scopes []string
	handler := auth.Middleware()(captureCaller(&caller, &scopes))

	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	token := signToken(t, jwt.MapClaims{
		"sub":   alice.Hex(),
		"iss":   "ledger",
		"aud":   "api",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "ledger:write ledger:read",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected success, got %d: %s", res.Code, res.Body.String())
	}
	if caller != alice {
		t.Fatalf("unexpected caller %s", caller.Hex())
	}
	if len(scopes) != 2 {
		t.Fatalf("unexpected scopes %v", scopes)
	}
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "ledger"}, nil)
	var caller common.Address
	var scopes []string
	handler := auth.Middleware("ledger:admin")(captureCaller(&caller, &scopes))
	future := time.Now().Add(time.Hour).Unix()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.MapClaims{"sub": "0x00000000000000000000000000000000000000a1", "iss": "ledger", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signToken(t, jwt.MapClaims{"sub": "0x00000000000000000000000000000000000000a1", "iss": "ledger"}), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signToken(t, jwt.MapClaims{"sub": "0x00000000000000000000000000000000000000a1", "iss": "other", "exp": future}), http.StatusUnauthorized},
		{"bad subject", "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "iss": "ledger", "exp": future}), http.StatusUnauthorized},
		{"missing scope", "Bearer " + signToken(t, jwt.MapClaims{"sub": "0x00000000000000000000000000000000000000a1", "iss": "ledger", "exp": future, "scope": "ledger:write"}), http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/pause", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, res.Code)
		}
	}
}

func TestAuthenticatorDisabledUsesHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	var caller common.Address
	var scopes []string
	handler := auth.Middleware()(captureCaller(&caller, &scopes))

	req := httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	req.Header.Set(AccountHeader, "0x00000000000000000000000000000000000000b0")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || caller != common.HexToAddress("0x00000000000000000000000000000000000000b0") {
		t.Fatalf("dev caller not resolved: %d %s", res.Code, caller.Hex())
	}
}

func TestAuthenticatorOptionalPaths(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, OptionalPaths: []string{"/v1/pool"}}, nil)
	var caller common.Address
	var scopes []string
	handler := auth.Middleware()(captureCaller(&caller, &scopes))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/pool", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("optional path required a token: %d", res.Code)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/deposit", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent || res.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("preflight not answered: %d %v", res.Code, res.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/pool", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin echoed")
	}
}

func TestObservabilityRecordsStatus(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true}, nil)
	handler := obs.Middleware("/v1/repay")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/repay", nil))
	if res.Code != http.StatusConflict {
		t.Fatalf("status not propagated: %d", res.Code)
	}

	metrics := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if metrics.Code != http.StatusOK {
		t.Fatalf("metrics handler failed: %d", metrics.Code)
	}
}
