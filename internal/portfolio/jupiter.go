package portfolio

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/httpx"
)

const (
	defaultLiteBase = "https://lite-api.jup.ag/price/v3"
	defaultProBase  = "https://api.jup.ag/price/v3"
)

// PriceSource quotes the fiat price of one unit of a mint.
type PriceSource interface {
	Price(ctx context.Context, mint string) (float64, error)
}

// JupiterPrices reads USD prices from the Jupiter price API.
type JupiterPrices struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

// NewJupiterPrices picks the keyed endpoint when apiKey is set. A non-empty
// baseURL overrides both.
func NewJupiterPrices(httpClient *httpx.Client, baseURL, apiKey string) *JupiterPrices {
	apiKey = strings.TrimSpace(apiKey)
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultLiteBase
		if apiKey != "" {
			baseURL = defaultProBase
		}
	}
	return &JupiterPrices{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type priceEntry struct {
	USDPrice float64 `json:"usdPrice"`
	Decimals int     `json:"decimals"`
}

func (j *JupiterPrices) Price(ctx context.Context, mint string) (float64, error) {
	mint = strings.TrimSpace(mint)
	if mint == "" {
		return 0, clierr.New(clierr.CodeUsage, "price lookup requires a mint")
	}
	endpoint := fmt.Sprintf("%s?ids=%s", j.baseURL, url.QueryEscape(mint))
	headers := map[string]string{}
	if j.apiKey != "" {
		headers["x-api-key"] = j.apiKey
	}

	var resp map[string]*priceEntry
	if _, err := httpx.GetJSON(ctx, j.http, endpoint, headers, &resp); err != nil {
		return 0, err
	}
	entry := resp[mint]
	if entry == nil {
		return 0, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("jupiter returned no price for %s", mint))
	}
	if entry.USDPrice <= 0 {
		return 0, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("jupiter returned a non-positive price for %s", mint))
	}
	return entry.USDPrice, nil
}
