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

package relock

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/relock-labs/relock/config"
	"github.com/relock-labs/relock/model"
)

type valuedLock struct {
	lock   *model.Lock
	refund decimal.Decimal
}

// RankOpportunities turns the discovered locks and resolved allowances into
// a concrete, ordered list of renewals to execute. Refund values are
// converted to the common unit with one batched price lookup, locks are
// walked from the most to the least lucrative, and every selected renewal
// immediately debits the owner's shared allowance pool so later candidates
// see what is actually left.
//
// A completely unavailable or empty price source ends the run cleanly with
// zero opportunities; it is not an error.
func (r *Relock) RankOpportunities(ctx context.Context) (*model.OpportunitySet, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	lockSet, err := r.loadLockSet(ctx)
	if err != nil {
		return nil, err
	}
	allowanceSet, err := r.loadAllowanceSet(ctx)
	if err != nil {
		return nil, err
	}
	book := allowanceSet.Allowances
	if book == nil {
		book = make(model.AllowanceBook)
	}

	set := &model.OpportunitySet{
		RunID:         lockSet.RunID,
		EvaluatedAt:   uint64(time.Now().Unix()),
		Opportunities: []model.Opportunity{},
	}

	tokens := lockSet.Tokens()
	prices, err := r.prices.TokenPrices(ctx, tokens)
	if err != nil {
		logrus.WithError(err).Warn("price source unavailable, nothing to do this run")
		return set, r.store.Save(ctx, OpportunitiesArtifact, set)
	}
	if len(prices) == 0 && len(tokens) > 0 {
		logrus.Warn("price source returned no quotes, nothing to do this run")
		return set, r.store.Save(ctx, OpportunitiesArtifact, set)
	}

	valued := r.valueLocks(ctx, lockSet.Locks, prices)

	// Most lucrative first, so shared allowance goes to the highest
	// refunds before it runs out.
	sort.SliceStable(valued, func(i, j int) bool {
		return valued[i].refund.GreaterThan(valued[j].refund)
	})

	threshold := cnf.CostThreshold()
	for _, candidate := range valued {
		if !candidate.refund.GreaterThan(threshold) {
			// Sorted descending, nothing further clears the threshold.
			break
		}
		r.selectFromLock(ctx, candidate.lock, book, set)
	}

	logrus.Infof("selected %d renewal opportunities", len(set.Opportunities))
	if err := r.store.Save(ctx, OpportunitiesArtifact, set); err != nil {
		return nil, err
	}
	return set, nil
}

// valueLocks converts each lock's refund to the common unit, normalized by
// the token's on-chain decimals. Locks whose token has no quote, or whose
// decimals cannot be read, are skipped. Decimals are cached per token for
// the duration of this stage only.
func (r *Relock) valueLocks(ctx context.Context, locks []*model.Lock, prices map[common.Address]decimal.Decimal) []valuedLock {
	decimalsByToken := make(map[common.Address]int32)
	valued := make([]valuedLock, 0, len(locks))
	for _, lock := range locks {
		price, ok := prices[lock.TokenAddress]
		if !ok {
			logrus.Warnf("no quote for token %s, skipping lock %s", lock.TokenAddress.Hex(), lock.Address.Hex())
			continue
		}
		decimals, ok := decimalsByToken[lock.TokenAddress]
		if !ok {
			fetched, err := r.reader.TokenDecimals(ctx, lock.TokenAddress)
			if err != nil {
				logrus.WithError(err).Warnf("cannot read decimals of token %s, skipping lock %s", lock.TokenAddress.Hex(), lock.Address.Hex())
				continue
			}
			decimals = int32(fetched)
			decimalsByToken[lock.TokenAddress] = decimals
		}
		refund := decimal.NewFromBigInt(lock.RefundValue.Int(), -decimals).Mul(price)
		valued = append(valued, valuedLock{lock: lock, refund: refund})
	}
	return valued
}

// selectFromLock walks a lock's lapsed keys in token-ID order and emits an
// opportunity for every key whose owner still has allowance and balance to
// cover the key price. The allowance debit happens at selection time and is
// irrevocable within the run.
func (r *Relock) selectFromLock(ctx context.Context, lock *model.Lock, book model.AllowanceBook, set *model.OpportunitySet) {
	for _, key := range lock.LapsedKeys() {
		remaining, ok := book.Lookup(lock.TokenAddress, key.Owner)
		if !ok {
			continue
		}
		if remaining.Cmp(lock.KeyPrice) < 0 {
			logrus.Debugf("owner %s cannot cover key price on lock %s", key.Owner.Hex(), lock.Address.Hex())
			continue
		}
		balance, err := r.reader.TokenBalance(ctx, lock.TokenAddress, key.Owner)
		if err != nil {
			logrus.WithError(err).Warnf("cannot read balance of owner %s, skipping key %d on lock %s", key.Owner.Hex(), key.TokenID, lock.Address.Hex())
			continue
		}
		if balance.Cmp(lock.KeyPrice.Int()) < 0 {
			continue
		}
		set.Opportunities = append(set.Opportunities, model.Opportunity{
			LockAddress: lock.Address,
			KeyID:       key.TokenID,
		})
		if err := book.Debit(lock.TokenAddress, key.Owner, lock.KeyPrice); err != nil {
			logrus.WithError(err).Error("allowance bookkeeping failed")
		}
	}
}
