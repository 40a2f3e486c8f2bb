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

// Package relock finds subscription locks whose lapsed members can be
// renewed for a refund, ranks the renewals by profitability, and executes
// them. The work runs as four sequential stages; each persists its output
// as an artifact the next stage reads back.
package relock

import (
	"context"

	"github.com/pkg/errors"

	"github.com/relock-labs/relock/artifact"
	"github.com/relock-labs/relock/chain"
	"github.com/relock-labs/relock/model"
	"github.com/relock-labs/relock/pricefeed"
)

// Artifact keys, one per pipeline stage.
const (
	LocksArtifact         = "01-locks"
	AllowancesArtifact    = "02-allowances"
	OpportunitiesArtifact = "03-opportunities"
	ResultArtifact        = "04-result"
)

// Relock represents the main struct for the Relock application.
type Relock struct {
	reader    chain.Reader
	submitter chain.Submitter
	prices    pricefeed.Source
	store     artifact.Store
}

// NewRelock initializes a new instance of Relock with the provided chain
// access, price source and artifact store. The submitter may be nil for
// read-only use; only ExecuteOpportunities requires it.
func NewRelock(reader chain.Reader, submitter chain.Submitter, prices pricefeed.Source, store artifact.Store) (*Relock, error) {
	if reader == nil {
		return nil, errors.New("chain reader is required")
	}
	if prices == nil {
		return nil, errors.New("price source is required")
	}
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	return &Relock{reader: reader, submitter: submitter, prices: prices, store: store}, nil
}

func (r *Relock) loadLockSet(ctx context.Context) (*model.LockSet, error) {
	var set model.LockSet
	if err := r.store.Load(ctx, LocksArtifact, &set); err != nil {
		return nil, errors.Wrap(err, "loading discovery output")
	}
	return &set, nil
}

func (r *Relock) loadAllowanceSet(ctx context.Context) (*model.AllowanceSet, error) {
	var set model.AllowanceSet
	if err := r.store.Load(ctx, AllowancesArtifact, &set); err != nil {
		return nil, errors.Wrap(err, "loading subscriber resolution output")
	}
	return &set, nil
}

func (r *Relock) loadOpportunitySet(ctx context.Context) (*model.OpportunitySet, error) {
	var set model.OpportunitySet
	if err := r.store.Load(ctx, OpportunitiesArtifact, &set); err != nil {
		return nil, errors.Wrap(err, "loading ranking output")
	}
	return &set, nil
}
