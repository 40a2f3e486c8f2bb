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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relock-labs/relock/model"
)

// ResolveSubscribers walks the discovered locks and records, for each owner
// of a lapsed key, how much of the lock's pricing token the owner has
// approved for the lock to pull. The first lapsed key per (token, owner)
// pair wins; later keys of the same owner reuse the recorded amount rather
// than querying again. Zero allowances are never recorded, and a failed
// allowance read counts as zero.
func (r *Relock) ResolveSubscribers(ctx context.Context) (*model.AllowanceSet, error) {
	lockSet, err := r.loadLockSet(ctx)
	if err != nil {
		return nil, err
	}

	book := make(model.AllowanceBook)
	for _, lock := range lockSet.Locks {
		logrus.Infof("resolving subscribers of lock %s", lock.Address.Hex())
		for _, key := range lock.Keys {
			if !key.Lapsed {
				logrus.Debugf("skipping unexpired key %d", key.TokenID)
				continue
			}
			if book.Has(lock.TokenAddress, key.Owner) {
				logrus.Debugf("reusing known allowance of owner %s for token %s", key.Owner.Hex(), lock.TokenAddress.Hex())
				continue
			}
			allowance, err := r.reader.TokenAllowance(ctx, lock.TokenAddress, key.Owner, lock.Address)
			if err != nil {
				logrus.WithError(err).Warnf("treating allowance of owner %s for token %s as zero", key.Owner.Hex(), lock.TokenAddress.Hex())
				continue
			}
			if allowance.Sign() == 0 {
				logrus.Debugf("skipping zero allowance of owner %s", key.Owner.Hex())
				continue
			}
			book.Record(lock.TokenAddress, key.Owner, model.NewBigInt(allowance))
		}
	}

	set := &model.AllowanceSet{
		RunID:       lockSet.RunID,
		EvaluatedAt: uint64(time.Now().Unix()),
		Allowances:  book,
	}
	if err := r.store.Save(ctx, AllowancesArtifact, set); err != nil {
		return nil, err
	}
	return set, nil
}
