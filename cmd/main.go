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
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	relock "github.com/relock-labs/relock"
	"github.com/relock-labs/relock/artifact"
	"github.com/relock-labs/relock/chain"
	"github.com/relock-labs/relock/config"
)

// Relock represents the CLI application, encapsulating the root Cobra command.
type Relock struct {
	cmd *cobra.Command
}

// relockInstance holds the pipeline instance and its configuration for use
// by the subcommands.
type relockInstance struct {
	relock *relock.Relock
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the
// error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the pipeline before
// running any command.
func preRun(app *relockInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newRelock, err := setupRelock(cmd.Context(), cnf)
		if err != nil {
			log.Fatal(err)
		}

		app.relock = newRelock
		app.cnf = cnf

		return nil
	}
}

// setupRelock wires the chain client, price source and artifact store into
// a pipeline instance based on the provided configuration.
func setupRelock(ctx context.Context, cnf *config.Configuration) (*relock.Relock, error) {
	client, err := chain.Dial(ctx, cnf.Chain.RpcUrl, cnf.Searcher.PrivateKey,
		time.Duration(cnf.Searcher.ConfirmTimeoutSecs)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("error connecting to chain: %v", err)
	}
	store, err := artifact.NewStore(cnf)
	if err != nil {
		return nil, fmt.Errorf("error creating artifact store: %v", err)
	}
	prices := pricefeedSource(cnf)

	newRelock, err := relock.NewRelock(client, client, prices, store)
	if err != nil {
		return nil, fmt.Errorf("error creating relock: %v", err)
	}
	return newRelock, nil
}

// NewCLI creates the command-line interface for the relock application.
// It sets up the root command and one subcommand per pipeline stage.
func NewCLI() *Relock {
	var configFile string
	b := &relockInstance{}

	var rootCmd = &cobra.Command{
		Use:   "relock",
		Short: "Lapsed subscription renewal searcher",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./relock.json", "Configuration file for relock")

	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(discoverCommands(b))
	rootCmd.AddCommand(subscriberCommands(b))
	rootCmd.AddCommand(rankCommands(b))
	rootCmd.AddCommand(executeCommands(b))
	rootCmd.AddCommand(runCommands(b))

	return &Relock{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during
// execution.
func (w Relock) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// main recovers from any panic, initializes the CLI, and executes it.
func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
