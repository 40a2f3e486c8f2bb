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
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relock-labs/relock/chain"
	"github.com/relock-labs/relock/config"
	"github.com/relock-labs/relock/model"
)

// probeConcurrency bounds parallel lock probes so a large registry scan
// does not flood the RPC endpoint.
const probeConcurrency = 8

// DiscoverLocks scans the registry for locks created or upgraded since the
// configured start block, probes each candidate's live state against the
// eligibility rules, and enumerates the keys of every eligible lock. The
// result is stored as the discovery artifact.
//
// A lock that fails any probe is skipped, never fatal: discovery degrades
// per entity and only a failed registry scan aborts the stage.
func (r *Relock) DiscoverLocks(ctx context.Context) (*model.LockSet, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	registry := common.HexToAddress(cnf.Chain.RegistryAddress)
	now := uint64(time.Now().Unix())

	creationEvents, err := r.reader.NewLockEvents(ctx, registry, cnf.Chain.StartBlock)
	if err != nil {
		return nil, errors.Wrap(err, "scanning lock creation events")
	}
	logrus.Infof("found %d lock creation events since block %d", len(creationEvents), cnf.Chain.StartBlock)

	locks := r.probeAll(ctx, creationEvents, cnf.Chain.MinLockVersion, now)
	logrus.Infof("found %d eligible locks from creation events", len(locks))

	upgradeEvents, err := r.reader.LockUpgradedEvents(ctx, registry, cnf.Chain.StartBlock)
	if err != nil {
		return nil, errors.Wrap(err, "scanning lock upgrade events")
	}
	logrus.Infof("found %d lock upgrade events since block %d", len(upgradeEvents), cnf.Chain.StartBlock)

	// A lock found both ways is processed once, via its creation event.
	seen := make(map[common.Address]bool, len(locks))
	for _, lock := range locks {
		seen[lock.Address] = true
	}
	var candidates []chain.LockEvent
	for _, event := range upgradeEvents {
		if event.Version != cnf.Chain.MinLockVersion {
			continue
		}
		if seen[event.LockAddress] {
			continue
		}
		seen[event.LockAddress] = true
		candidates = append(candidates, event)
	}
	upgraded := r.probeAll(ctx, candidates, cnf.Chain.MinLockVersion, now)
	logrus.Infof("found %d eligible locks from upgrade events", len(upgraded))
	locks = append(locks, upgraded...)

	set := &model.LockSet{
		RunID:       model.GenerateUUIDWithSuffix("run"),
		EvaluatedAt: now,
		Locks:       locks,
	}
	if err := r.store.Save(ctx, LocksArtifact, set); err != nil {
		return nil, err
	}
	return set, nil
}

// probeAll probes candidate locks with bounded parallelism. Output order
// follows event order regardless of probe completion order.
func (r *Relock) probeAll(ctx context.Context, events []chain.LockEvent, minVersion uint16, now uint64) []*model.Lock {
	results := make([]*model.Lock, len(events))
	sem := make(chan struct{}, probeConcurrency)
	var wg sync.WaitGroup
	for i, event := range events {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, event chain.LockEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			lock, err := r.probeLock(ctx, event, minVersion, now)
			if err != nil {
				logrus.WithError(err).Infof("skipping lock %s", event.LockAddress.Hex())
				return
			}
			results[i] = lock
		}(i, event)
	}
	wg.Wait()

	locks := make([]*model.Lock, 0, len(events))
	for _, lock := range results {
		if lock != nil {
			locks = append(locks, lock)
		}
	}
	return locks
}

// probeLock checks one candidate against every eligibility rule and, when
// it passes, enumerates its keys. The event's block time is the reference
// for whether any key could have lapsed yet.
func (r *Relock) probeLock(ctx context.Context, event chain.LockEvent, minVersion uint16, now uint64) (*model.Lock, error) {
	address := event.LockAddress
	referenceTime, err := r.reader.BlockTime(ctx, event.BlockNumber)
	if err != nil {
		return nil, errors.Wrap(err, "fetching reference block time")
	}

	version, err := r.reader.LockVersion(ctx, address)
	if err != nil {
		return nil, err
	}
	if version < minVersion {
		return nil, errors.Errorf("lock version %d below minimum supported %d", version, minVersion)
	}

	refund, err := r.reader.RefundValue(ctx, address)
	if err != nil {
		return nil, err
	}
	if refund.Sign() <= 0 {
		return nil, errors.New("lock pays no renewal refund")
	}

	token, err := r.reader.PricedToken(ctx, address)
	if err != nil {
		return nil, err
	}
	if token == (common.Address{}) {
		return nil, errors.New("lock is priced in the native asset")
	}

	owners, err := r.reader.NumberOfOwners(ctx, address)
	if err != nil {
		return nil, err
	}
	if owners.Sign() <= 0 {
		return nil, errors.New("lock has no key holders")
	}
	if !owners.IsUint64() {
		return nil, errors.New("implausible key holder count")
	}

	duration, err := r.reader.ExpirationDuration(ctx, address)
	if err != nil {
		return nil, err
	}
	// Non-expiring locks report an effectively infinite duration.
	if duration.Sign() <= 0 || !duration.IsUint64() {
		return nil, errors.New("lock keys never expire")
	}

	lock := &model.Lock{
		Address:            address,
		Version:            version,
		RefundValue:        model.NewBigInt(refund),
		TokenAddress:       token,
		NumberOfOwners:     owners.Uint64(),
		ExpirationDuration: duration.Uint64(),
		ReferenceTime:      referenceTime,
	}
	if now < lock.FirstPossibleLapse() {
		return nil, errors.New("lock too fresh, no key can have lapsed yet")
	}

	price, err := r.reader.KeyPrice(ctx, address)
	if err != nil {
		return nil, err
	}
	lock.KeyPrice = model.NewBigInt(price)

	lock.Keys = r.enumerateKeys(ctx, lock, now)
	return lock, nil
}

// enumerateKeys fetches owner and expiry for key IDs 1..numberOfOwners. A
// failed fetch degrades the whole lock to an empty key list; the lock
// itself stays in the result set.
func (r *Relock) enumerateKeys(ctx context.Context, lock *model.Lock, now uint64) []model.Key {
	keys := make([]model.Key, 0, lock.NumberOfOwners)
	for tokenID := uint64(1); tokenID <= lock.NumberOfOwners; tokenID++ {
		owner, err := r.reader.KeyOwner(ctx, lock.Address, tokenID)
		if err != nil {
			logrus.WithError(err).Warnf("skipping keys for lock %s", lock.Address.Hex())
			return nil
		}
		expiry, err := r.reader.KeyExpiration(ctx, lock.Address, tokenID)
		if err != nil {
			logrus.WithError(err).Warnf("skipping keys for lock %s", lock.Address.Hex())
			return nil
		}
		expiresAt := uint64(math.MaxUint64)
		if expiry.IsUint64() {
			expiresAt = expiry.Uint64()
		}
		keys = append(keys, model.Key{
			TokenID:   tokenID,
			Owner:     owner,
			ExpiresAt: expiresAt,
			Lapsed:    expiresAt <= now,
		})
	}
	return keys
}
