/*
Copyright 2024 Relock Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pricefeed resolves token prices in the common unit used to
// compare refund values across locks priced in different tokens.
package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/relock-labs/relock/config"
	"github.com/relock-labs/relock/internal/request"
)

// Source maps token addresses to a common-unit price. Missing tokens are
// simply absent from the result; an empty result is valid and means there
// is nothing worth pricing right now.
type Source interface {
	TokenPrices(ctx context.Context, tokens []common.Address) (map[common.Address]decimal.Decimal, error)
}

const defaultTimeout = 30 * time.Second

// Coingecko fetches ERC-20 spot prices from the Coingecko simple token
// price endpoint in one batched call.
type Coingecko struct {
	url      string
	platform string
	currency string
	timeout  time.Duration
}

var _ Source = (*Coingecko)(nil)

func NewCoingecko(cnf config.PriceFeedConfig) *Coingecko {
	timeout := defaultTimeout
	if cnf.TimeoutSecs > 0 {
		timeout = time.Duration(cnf.TimeoutSecs) * time.Second
	}
	return &Coingecko{
		url:      strings.TrimSuffix(cnf.Url, "/"),
		platform: cnf.Platform,
		currency: cnf.Currency,
		timeout:  timeout,
	}
}

func (c *Coingecko) TokenPrices(ctx context.Context, tokens []common.Address) (map[common.Address]decimal.Decimal, error) {
	prices := make(map[common.Address]decimal.Decimal)
	if len(tokens) == 0 {
		return prices, nil
	}

	addresses := make([]string, len(tokens))
	for i, token := range tokens {
		addresses[i] = strings.ToLower(token.Hex())
	}
	endpoint := fmt.Sprintf("%s/simple/token_price/%s?contract_addresses=%s&vs_currencies=%s",
		c.url, url.PathEscape(c.platform), url.QueryEscape(strings.Join(addresses, ",")), url.QueryEscape(c.currency))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building price request")
	}

	var response map[string]map[string]decimal.Decimal
	resp, err := request.Call(req, &response)
	if err != nil {
		return nil, errors.Wrap(err, "consulting price feed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("price feed returned status %d", resp.StatusCode)
	}

	for address, quote := range response {
		price, ok := quote[c.currency]
		if !ok {
			continue
		}
		prices[common.HexToAddress(address)] = price
	}
	return prices, nil
}
