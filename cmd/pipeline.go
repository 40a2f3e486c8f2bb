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

package main

import (
	"github.com/spf13/cobra"

	"github.com/relock-labs/relock/config"
	"github.com/relock-labs/relock/internal/notification"
	"github.com/relock-labs/relock/pricefeed"
)

func pricefeedSource(cnf *config.Configuration) pricefeed.Source {
	return pricefeed.NewCoingecko(cnf.PriceFeed)
}

// fatal reports a structural stage failure before it propagates to the
// caller as a non-zero exit.
func fatal(err error) error {
	notification.NotifyError(err)
	return err
}

func discoverCommands(b *relockInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "scan the registry and probe eligible locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := b.relock.DiscoverLocks(cmd.Context()); err != nil {
				return fatal(err)
			}
			return nil
		},
	}
}

func subscriberCommands(b *relockInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribers",
		Short: "resolve token allowances of lapsed subscribers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := b.relock.ResolveSubscribers(cmd.Context()); err != nil {
				return fatal(err)
			}
			return nil
		},
	}
}

func rankCommands(b *relockInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "price refunds and select profitable renewals",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := b.relock.RankOpportunities(cmd.Context()); err != nil {
				return fatal(err)
			}
			return nil
		},
	}
}

func executeCommands(b *relockInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "submit renewal transactions for selected opportunities",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := b.relock.ExecuteOpportunities(cmd.Context()); err != nil {
				return fatal(err)
			}
			return nil
		},
	}
}

func runCommands(b *relockInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run all four pipeline stages in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := b.relock.DiscoverLocks(ctx); err != nil {
				return fatal(err)
			}
			if _, err := b.relock.ResolveSubscribers(ctx); err != nil {
				return fatal(err)
			}
			if _, err := b.relock.RankOpportunities(ctx); err != nil {
				return fatal(err)
			}
			if _, err := b.relock.ExecuteOpportunities(ctx); err != nil {
				return fatal(err)
			}
			return nil
		},
	}
}
