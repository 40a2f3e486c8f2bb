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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// DEFAULT_MIN_LOCK_VERSION is the first lock version that supports
	// membership renewal by a third party.
	DEFAULT_MIN_LOCK_VERSION = 10

	DEFAULT_PRICE_FEED_URL  = "https://api.coingecko.com/api/v3"
	DEFAULT_PRICE_PLATFORM  = "ethereum"
	DEFAULT_PRICE_CURRENCY  = "eth"
	DEFAULT_COST_THRESHOLD  = "0.02"
	DEFAULT_ARTIFACT_DIR    = "./output"
	DEFAULT_CONFIRM_TIMEOUT = 180
)

var ConfigStore atomic.Value

type ChainConfig struct {
	RpcUrl          string `json:"rpc_url" envconfig:"RELOCK_CHAIN_RPC_URL"`
	RegistryAddress string `json:"registry_address" envconfig:"RELOCK_CHAIN_REGISTRY_ADDRESS"`
	StartBlock      uint64 `json:"start_block" envconfig:"RELOCK_CHAIN_START_BLOCK"`
	MinLockVersion  uint16 `json:"min_lock_version" envconfig:"RELOCK_CHAIN_MIN_LOCK_VERSION"`
}

type SearcherConfig struct {
	PrivateKey         string `json:"private_key" envconfig:"RELOCK_SEARCHER_PRIVATE_KEY"`
	ConfirmTimeoutSecs int    `json:"confirm_timeout_secs" envconfig:"RELOCK_SEARCHER_CONFIRM_TIMEOUT_SECS"`
}

type PriceFeedConfig struct {
	Url         string `json:"url" envconfig:"RELOCK_PRICE_FEED_URL"`
	Platform    string `json:"platform" envconfig:"RELOCK_PRICE_FEED_PLATFORM"`
	Currency    string `json:"currency" envconfig:"RELOCK_PRICE_FEED_CURRENCY"`
	TimeoutSecs int    `json:"timeout_secs" envconfig:"RELOCK_PRICE_FEED_TIMEOUT_SECS"`
}

type ProfitConfig struct {
	// CostThreshold is the assumed execution cost in the common unit. A
	// lock must refund strictly more than this to be worth renewing.
	CostThreshold string `json:"cost_threshold" envconfig:"RELOCK_PROFIT_COST_THRESHOLD"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"RELOCK_REDIS_DNS"`
}

type ArtifactConfig struct {
	Backend string      `json:"backend" envconfig:"RELOCK_ARTIFACT_BACKEND"`
	Dir     string      `json:"dir" envconfig:"RELOCK_ARTIFACT_DIR"`
	Redis   RedisConfig `json:"redis"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string          `json:"project_name" envconfig:"RELOCK_PROJECT_NAME"`
	Chain        ChainConfig     `json:"chain"`
	Searcher     SearcherConfig  `json:"searcher"`
	PriceFeed    PriceFeedConfig `json:"price_feed"`
	Profit       ProfitConfig    `json:"profit"`
	Artifacts    ArtifactConfig  `json:"artifacts"`
	Notification Notification    `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("relock", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called relock.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Relock"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Chain.RpcUrl = strings.TrimSpace(cnf.Chain.RpcUrl)
	cnf.Chain.RegistryAddress = strings.TrimSpace(cnf.Chain.RegistryAddress)
	cnf.Searcher.PrivateKey = strings.TrimSpace(cnf.Searcher.PrivateKey)
	cnf.Artifacts.Dir = strings.TrimSpace(cnf.Artifacts.Dir)

	if cnf.Chain.MinLockVersion == 0 {
		cnf.Chain.MinLockVersion = DEFAULT_MIN_LOCK_VERSION
	}
	if cnf.Searcher.ConfirmTimeoutSecs == 0 {
		cnf.Searcher.ConfirmTimeoutSecs = DEFAULT_CONFIRM_TIMEOUT
	}
	if cnf.PriceFeed.Url == "" {
		cnf.PriceFeed.Url = DEFAULT_PRICE_FEED_URL
	}
	if cnf.PriceFeed.Platform == "" {
		cnf.PriceFeed.Platform = DEFAULT_PRICE_PLATFORM
	}
	if cnf.PriceFeed.Currency == "" {
		cnf.PriceFeed.Currency = DEFAULT_PRICE_CURRENCY
	}
	if cnf.Profit.CostThreshold == "" {
		log.Printf("Warning: cost threshold not specified. Setting default value: %s", DEFAULT_COST_THRESHOLD)
		cnf.Profit.CostThreshold = DEFAULT_COST_THRESHOLD
	}
	if cnf.Artifacts.Backend == "" {
		cnf.Artifacts.Backend = "file"
	}
	if cnf.Artifacts.Dir == "" {
		cnf.Artifacts.Dir = DEFAULT_ARTIFACT_DIR
	}

	return cnf.validate()
}

func (cnf *Configuration) validate() error {
	err := validation.ValidateStruct(&cnf.Chain,
		validation.Field(&cnf.Chain.RpcUrl, validation.Required),
		validation.Field(&cnf.Chain.RegistryAddress, validation.Required, validation.By(validEthAddress)),
	)
	if err != nil {
		return err
	}
	err = validation.ValidateStruct(&cnf.Artifacts,
		validation.Field(&cnf.Artifacts.Backend, validation.In("file", "redis")),
	)
	if err != nil {
		return err
	}
	if cnf.Artifacts.Backend == "redis" && cnf.Artifacts.Redis.Dns == "" {
		return errors.New("redis DNS is required for the redis artifact backend")
	}
	if _, err := decimal.NewFromString(cnf.Profit.CostThreshold); err != nil {
		return errors.New("cost threshold must be a decimal amount in the common unit")
	}
	return nil
}

func validEthAddress(value interface{}) error {
	s, _ := value.(string)
	if !common.IsHexAddress(s) {
		return errors.New("must be a 0x-prefixed contract address")
	}
	return nil
}

// CostThreshold returns the configured profitability floor as a decimal.
// Validation guarantees the stored string parses.
func (cnf *Configuration) CostThreshold() decimal.Decimal {
	threshold, _ := decimal.NewFromString(cnf.Profit.CostThreshold)
	return threshold
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
