package server

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Agihtaws/arbminidefi/gateway/middleware"
	"github.com/Agihtaws/arbminidefi/native/lending"
	"github.com/Agihtaws/arbminidefi/native/oracle"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/journal"
)

// Scopes required on bearer tokens when authentication is enabled.
const (
	ScopeWrite = "ledger:write"
	ScopeAdmin = "ledger:admin"
)

// Rate limit groups.
const (
	LimitMutations = "mutations"
	LimitQueries   = "queries"
	LimitAdmin     = "admin"
)

const requestTimeout = 10 * time.Second

// Ledger is the subset of the lending engine served over HTTP.
type Ledger interface {
	Deposit(ctx context.Context, caller lending.Account, asset lending.Asset, amount *big.Int) (*lending.DepositResult, error)
	Withdraw(ctx context.Context, caller lending.Account, asset lending.Asset, amount *big.Int) (*lending.WithdrawResult, error)
	Borrow(ctx context.Context, caller lending.Account, asset lending.Asset, amount *big.Int, collateralAsset lending.Asset, collateralAmount *big.Int) (*lending.BorrowResult, error)
	Repay(ctx context.Context, caller lending.Account, asset lending.Asset, payment *big.Int) (*lending.RepayResult, error)

	LenderInfo(account lending.Account) (*lending.LenderInfo, error)
	BorrowerInfo(ctx context.Context, account lending.Account) (*lending.BorrowerInfo, error)
	UserLimits(ctx context.Context, account lending.Account) (*lending.UserLimits, error)
	CanBorrow(ctx context.Context, account lending.Account, amount *big.Int, asset, collateralAsset lending.Asset, collateralAmount *big.Int) (bool, string, error)
	CanWithdraw(account lending.Account, amount *big.Int, asset lending.Asset) (bool, string, error)
	PoolStats() (*lending.PoolStats, error)
	Price(ctx context.Context) (oracle.PriceSnapshot, error)

	Pause(caller lending.Account) error
	Unpause(caller lending.Account) error
	SetPriceOracle(ctx context.Context, caller lending.Account, reference string) (string, error)
	PublishPrice(ctx context.Context, caller lending.Account, price string) (oracle.PriceSnapshot, error)
	EmergencySweep(ctx context.Context, caller lending.Account, asset lending.Asset, amount *big.Int, to lending.Account) error
}

// History serves the account event journal.
type History interface {
	History(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Server exposes the ledger as a JSON API.
type Server struct {
	ledger  Ledger
	history History
	logger  *slog.Logger
	timeout time.Duration
}

// New constructs a server. history may be nil, in which case the history
// endpoint reports 404.
func New(ledger Ledger, history History, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:  ledger,
		history: history,
		logger:  logger.With(slog.String("component", "ledgerd")),
		timeout: requestTimeout,
	}
}

// RouterConfig carries the middleware stack. Nil members are skipped.
type RouterConfig struct {
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	HealthHandler http.Handler
}

// Router mounts every route behind the configured middleware and wraps the
// result with otelhttp.
func (s *Server) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	r.Handle("/healthz", health)
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	group := func(sr chi.Router, limit string, scopes ...string) {
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware(scopes...))
		}
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(limit))
		}
	}
	route := func(sr chi.Router, method, pattern string, h http.HandlerFunc) {
		var handler http.Handler = h
		if cfg.Observability != nil {
			handler = cfg.Observability.Middleware(pattern)(handler)
		}
		sr.Method(method, pattern, handler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(sr chi.Router) {
			group(sr, LimitMutations, ScopeWrite)
			route(sr, http.MethodPost, "/deposit", s.deposit)
			route(sr, http.MethodPost, "/withdraw", s.withdraw)
			route(sr, http.MethodPost, "/borrow", s.borrow)
			route(sr, http.MethodPost, "/repay", s.repay)
		})
		v1.Group(func(sr chi.Router) {
			group(sr, LimitQueries)
			route(sr, http.MethodGet, "/accounts/{account}/lender", s.lender)
			route(sr, http.MethodGet, "/accounts/{account}/borrower", s.borrower)
			route(sr, http.MethodGet, "/accounts/{account}/limits", s.limits)
			route(sr, http.MethodGet, "/accounts/{account}/history", s.accountHistory)
			route(sr, http.MethodPost, "/can-borrow", s.canBorrow)
			route(sr, http.MethodPost, "/can-withdraw", s.canWithdraw)
			route(sr, http.MethodGet, "/pool", s.pool)
			route(sr, http.MethodGet, "/price", s.price)
		})
		v1.Route("/admin", func(sr chi.Router) {
			group(sr, LimitAdmin, ScopeAdmin)
			route(sr, http.MethodPost, "/pause", s.pause)
			route(sr, http.MethodPost, "/unpause", s.unpause)
			route(sr, http.MethodPost, "/oracle", s.setOracle)
			route(sr, http.MethodPost, "/price", s.publishPrice)
			route(sr, http.MethodPost, "/sweep", s.sweep)
		})
	})

	return otelhttp.NewHandler(r, "ledgerd")
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	return context.WithTimeout(parent, timeout)
}
