package oracle

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Reference prefixes accepted by Resolver.
const (
	KindManual    = "manual"
	KindChainlink = "chainlink"
	KindCoinGecko = "coingecko"
)

// Resolver turns an oracle reference string into a Source. References take
// the forms "manual", "chainlink:<feed address>" and "coingecko:<asset id>".
type Resolver struct {
	Manual       *ManualSource
	Caller       ethereum.ContractCaller
	HTTPClient   HTTPDoer
	CoinGeckoURL string
}

// Resolve returns the source and the canonical form of the reference.
func (r *Resolver) Resolve(reference string) (Source, string, error) {
	if r == nil {
		return nil, "", fmt.Errorf("oracle resolver not configured")
	}
	kind, arg, _ := strings.Cut(strings.TrimSpace(reference), ":")
	kind = strings.ToLower(strings.TrimSpace(kind))
	arg = strings.TrimSpace(arg)
	switch kind {
	case KindManual:
		if r.Manual == nil {
			return nil, "", fmt.Errorf("manual oracle not available")
		}
		return r.Manual, KindManual, nil
	case KindChainlink:
		if !common.IsHexAddress(arg) {
			return nil, "", fmt.Errorf("chainlink oracle: invalid feed address %q", arg)
		}
		if r.Caller == nil {
			return nil, "", fmt.Errorf("chainlink oracle: rpc client not configured")
		}
		feed := common.HexToAddress(arg)
		source, err := NewChainlinkSource(r.Caller, feed)
		if err != nil {
			return nil, "", err
		}
		return source, KindChainlink + ":" + feed.Hex(), nil
	case KindCoinGecko:
		if arg == "" {
			arg = "ethereum"
		}
		source := NewCoinGeckoSource(r.HTTPClient, r.CoinGeckoURL, arg)
		return source, KindCoinGecko + ":" + source.assetID, nil
	case "":
		return nil, "", fmt.Errorf("oracle reference required")
	default:
		return nil, "", fmt.Errorf("unknown oracle kind %q", kind)
	}
}
