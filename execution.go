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

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relock-labs/relock/model"
)

// ExecuteOpportunities submits one renewal transaction per selected
// opportunity, naming the searcher as the reward-eligible referrer, then
// waits for confirmations. Opportunities are independent: a failed
// submission or a transaction that never confirms is logged and dropped
// without touching the rest. Zero confirmed renewals is a normal outcome.
func (r *Relock) ExecuteOpportunities(ctx context.Context) (*model.ExecutionResult, error) {
	if r.submitter == nil {
		return nil, errors.New("no transaction submitter configured")
	}
	set, err := r.loadOpportunitySet(ctx)
	if err != nil {
		return nil, err
	}

	searcher := r.submitter.From()
	logrus.Infof("executing %d opportunities as searcher %s", len(set.Opportunities), searcher.Hex())

	var pending []common.Hash
	for _, opportunity := range set.Opportunities {
		hash, err := r.submitter.RenewMembership(ctx, opportunity.LockAddress, opportunity.KeyID, searcher)
		if err != nil {
			logrus.WithError(err).Warnf("error trying to renew key %d on lock %s", opportunity.KeyID, opportunity.LockAddress.Hex())
			continue
		}
		pending = append(pending, hash)
	}

	result := &model.ExecutionResult{
		RunID:        set.RunID,
		Transactions: []string{},
	}
	for _, hash := range pending {
		if err := r.submitter.AwaitReceipt(ctx, hash); err != nil {
			logrus.WithError(err).Warnf("renewal %s did not confirm", hash.Hex())
			continue
		}
		result.Transactions = append(result.Transactions, hash.Hex())
	}

	if len(result.Transactions) == 0 {
		logrus.Info("no value captured this run")
	} else {
		logrus.Infof("%d renewals confirmed", len(result.Transactions))
	}
	if err := r.store.Save(ctx, ResultArtifact, result); err != nil {
		return nil, err
	}
	return result, nil
}
