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

package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// Client implements Reader and Submitter over a JSON-RPC backend.
type Client struct {
	backend        Backend
	chainID        *big.Int
	key            *ecdsa.PrivateKey
	from           common.Address
	confirmTimeout time.Duration
}

var (
	_ Reader    = (*Client)(nil)
	_ Submitter = (*Client)(nil)
	_ Backend   = (*ethclient.Client)(nil)
)

// Dial connects to an RPC endpoint. privateKeyHex may be empty for the
// read-only stages; submitting without one fails.
func Dial(ctx context.Context, rpcURL, privateKeyHex string, confirmTimeout time.Duration) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dialing rpc endpoint")
	}
	return NewClient(ctx, backend, privateKeyHex, confirmTimeout)
}

// NewClient builds a client over an existing backend.
func NewClient(ctx context.Context, backend Backend, privateKeyHex string, confirmTimeout time.Duration) (*Client, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching chain id")
	}
	c := &Client{backend: backend, chainID: chainID, confirmTimeout: confirmTimeout}
	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "parsing searcher private key")
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *Client) filterLockEvents(ctx context.Context, registry common.Address, fromBlock uint64, event string) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{registry},
		Topics:    [][]common.Hash{{registryABI.Events[event].ID}},
	}
	logs, err := c.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s events", event)
	}
	return logs, nil
}

// NewLockEvents lists lock creation events. Both event parameters are
// indexed, so the new lock address sits in the topics.
func (c *Client) NewLockEvents(ctx context.Context, registry common.Address, fromBlock uint64) ([]LockEvent, error) {
	logs, err := c.filterLockEvents(ctx, registry, fromBlock, "NewLock")
	if err != nil {
		return nil, err
	}
	var events []LockEvent
	for _, entry := range logs {
		if len(entry.Topics) < 3 {
			continue
		}
		events = append(events, LockEvent{
			LockAddress: common.BytesToAddress(entry.Topics[2].Bytes()),
			BlockNumber: entry.BlockNumber,
		})
	}
	return events, nil
}

// LockUpgradedEvents lists version upgrade events. Parameters are not
// indexed and come out of the log data.
func (c *Client) LockUpgradedEvents(ctx context.Context, registry common.Address, fromBlock uint64) ([]LockEvent, error) {
	logs, err := c.filterLockEvents(ctx, registry, fromBlock, "LockUpgraded")
	if err != nil {
		return nil, err
	}
	var events []LockEvent
	for _, entry := range logs {
		values, err := registryABI.Unpack("LockUpgraded", entry.Data)
		if err != nil || len(values) != 2 {
			continue
		}
		lockAddress, okAddr := values[0].(common.Address)
		version, okVersion := values[1].(uint16)
		if !okAddr || !okVersion {
			continue
		}
		events = append(events, LockEvent{
			LockAddress: lockAddress,
			Version:     version,
			BlockNumber: entry.BlockNumber,
		})
	}
	return events, nil
}

func (c *Client) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, errors.Wrapf(err, "fetching header %d", number)
	}
	return header.Time, nil
}

func (c *Client) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "packing %s", method)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "calling %s on %s", method, to.Hex())
	}
	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s result from %s", method, to.Hex())
	}
	return values, nil
}

func (c *Client) callUint256(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.call(ctx, contractABI, to, method, args...)
	if err != nil {
		return nil, err
	}
	result, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("%s returned unexpected type %T", method, values[0])
	}
	return result, nil
}

func (c *Client) callAddress(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) (common.Address, error) {
	values, err := c.call(ctx, contractABI, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	result, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, errors.Errorf("%s returned unexpected type %T", method, values[0])
	}
	return result, nil
}

func (c *Client) LockVersion(ctx context.Context, lock common.Address) (uint16, error) {
	values, err := c.call(ctx, lockABI, lock, "publicLockVersion")
	if err != nil {
		return 0, err
	}
	version, ok := values[0].(uint16)
	if !ok {
		return 0, errors.Errorf("publicLockVersion returned unexpected type %T", values[0])
	}
	return version, nil
}

func (c *Client) RefundValue(ctx context.Context, lock common.Address) (*big.Int, error) {
	return c.callUint256(ctx, lockABI, lock, "gasRefundValue")
}

func (c *Client) PricedToken(ctx context.Context, lock common.Address) (common.Address, error) {
	return c.callAddress(ctx, lockABI, lock, "tokenAddress")
}

func (c *Client) NumberOfOwners(ctx context.Context, lock common.Address) (*big.Int, error) {
	return c.callUint256(ctx, lockABI, lock, "numberOfOwners")
}

func (c *Client) ExpirationDuration(ctx context.Context, lock common.Address) (*big.Int, error) {
	return c.callUint256(ctx, lockABI, lock, "expirationDuration")
}

func (c *Client) KeyPrice(ctx context.Context, lock common.Address) (*big.Int, error) {
	return c.callUint256(ctx, lockABI, lock, "keyPrice")
}

func (c *Client) KeyOwner(ctx context.Context, lock common.Address, tokenID uint64) (common.Address, error) {
	return c.callAddress(ctx, lockABI, lock, "ownerOf", new(big.Int).SetUint64(tokenID))
}

func (c *Client) KeyExpiration(ctx context.Context, lock common.Address, tokenID uint64) (*big.Int, error) {
	return c.callUint256(ctx, lockABI, lock, "keyExpirationTimestampFor", new(big.Int).SetUint64(tokenID))
}

func (c *Client) TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint256(ctx, erc20ABI, token, "allowance", owner, spender)
}

func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.callUint256(ctx, erc20ABI, token, "balanceOf", owner)
}

func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := c.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, errors.Errorf("decimals returned unexpected type %T", values[0])
	}
	return decimals, nil
}

func (c *Client) From() common.Address {
	return c.from
}

// RenewMembership signs and submits a renewMembershipFor call. Gas
// estimation doubles as a dry run: a renewal that would revert fails here
// instead of spending gas on-chain.
func (c *Client) RenewMembership(ctx context.Context, lock common.Address, keyID uint64, referrer common.Address) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, errors.New("no searcher private key configured")
	}
	data, err := lockABI.Pack("renewMembershipFor", new(big.Int).SetUint64(keyID), referrer)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "packing renewMembershipFor")
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "fetching nonce")
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "fetching gas price")
	}
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &lock, Data: data})
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "estimating renewal of key %d on %s", keyID, lock.Hex())
	}
	tx := types.NewTransaction(nonce, lock, new(big.Int), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "signing transaction")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrapf(err, "submitting renewal of key %d on %s", keyID, lock.Hex())
	}
	return signed.Hash(), nil
}

// AwaitReceipt polls for the transaction receipt until it lands or the
// confirmation timeout runs out. A reverted receipt stops the polling
// immediately.
func (c *Client) AwaitReceipt(ctx context.Context, tx common.Hash) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxElapsedTime = c.confirmTimeout

	return backoff.Retry(func() error {
		receipt, err := c.backend.TransactionReceipt(ctx, tx)
		if err != nil {
			return errors.Wrapf(err, "transaction %s not yet mined", tx.Hex())
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return backoff.Permanent(errors.Errorf("transaction %s reverted", tx.Hex()))
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}
