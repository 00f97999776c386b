package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoSource adapts the public CoinGecko simple price API. The API does
// not expose rounds, so a round id is derived from last_updated_at changes.
type CoinGeckoSource struct {
	client   HTTPDoer
	endpoint string
	assetID  string

	mu        sync.Mutex
	roundID   uint64
	lastStamp int64
}

func NewCoinGeckoSource(client HTTPDoer, endpoint, assetID string) *CoinGeckoSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	id := strings.ToLower(strings.TrimSpace(assetID))
	if id == "" {
		id = "ethereum"
	}
	return &CoinGeckoSource{client: client, endpoint: ep, assetID: id}
}

func (o *CoinGeckoSource) LatestRound(ctx context.Context) (Round, error) {
	if o == nil {
		return Round{}, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return Round{}, fmt.Errorf("%w: coingecko request: %v", ErrSourceUnavailable, err)
	}
	values := url.Values{}
	values.Set("ids", o.assetID)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	values.Set("precision", "full")
	req.URL.RawQuery = values.Encode()
	resp, err := o.client.Do(req)
	if err != nil {
		return Round{}, fmt.Errorf("%w: coingecko: %v", ErrSourceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Round{}, fmt.Errorf("%w: coingecko status %d: %s", ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Round{}, fmt.Errorf("%w: coingecko decode: %v", ErrSourceUnavailable, err)
	}
	entry, ok := payload[o.assetID]
	if !ok {
		return Round{}, fmt.Errorf("%w: coingecko quote missing for %s", ErrSourceUnavailable, o.assetID)
	}
	rawPrice := strings.TrimSpace(entry["usd"].String())
	if rawPrice == "" {
		return Round{}, fmt.Errorf("%w: coingecko empty price", ErrSourceUnavailable)
	}
	price, err := decimal.NewFromString(rawPrice)
	if err != nil {
		return Round{}, fmt.Errorf("%w: coingecko invalid price %q", ErrSourceUnavailable, rawPrice)
	}

	var stamp int64
	if raw := strings.TrimSpace(entry["last_updated_at"].String()); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			stamp = parsed
		}
	}

	round := Round{
		Answer:   price.Shift(PriceDecimals).Truncate(0).BigInt(),
		Decimals: PriceDecimals,
	}
	if stamp > 0 {
		round.UpdatedAt = time.Unix(stamp, 0).UTC()
	}
	round.RoundID = o.nextRound(stamp)
	round.AnsweredInRound = round.RoundID
	return round, nil
}

func (o *CoinGeckoSource) nextRound(stamp int64) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if stamp != o.lastStamp || o.roundID == 0 {
		o.roundID++
		o.lastStamp = stamp
	}
	return o.roundID
}
