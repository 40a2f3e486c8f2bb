package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI surfaces. Only the registry events and the lock and token
// methods the pipeline actually touches are declared.
const registryABIJSON = `[
	{"type":"event","name":"NewLock","anonymous":false,"inputs":[
		{"name":"lockOwner","type":"address","indexed":true},
		{"name":"newLockAddress","type":"address","indexed":true}]},
	{"type":"event","name":"LockUpgraded","anonymous":false,"inputs":[
		{"name":"lockAddress","type":"address","indexed":false},
		{"name":"version","type":"uint16","indexed":false}]}
]`

const lockABIJSON = `[
	{"type":"function","name":"publicLockVersion","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint16"}]},
	{"type":"function","name":"gasRefundValue","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenAddress","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"numberOfOwners","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"expirationDuration","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"keyPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"_tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"keyExpirationTimestampFor","stateMutability":"view","inputs":[{"name":"_tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"renewMembershipFor","stateMutability":"nonpayable","inputs":[{"name":"_tokenId","type":"uint256"},{"name":"_referrer","type":"address"}],"outputs":[]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	registryABI = mustParseABI(registryABIJSON)
	lockABI     = mustParseABI(lockABIJSON)
	erc20ABI    = mustParseABI(erc20ABIJSON)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
