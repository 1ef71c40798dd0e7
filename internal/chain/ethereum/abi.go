package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// erc20ABI covers the single view the coordinator reads.
const erc20ABI = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

// settlementABI is the settlement contract entry point. It pulls every amount
// with transferFrom in one transaction and refuses a splitKey it has seen.
const settlementABI = `[
  {"type":"function","name":"settle","stateMutability":"nonpayable",
   "inputs":[
     {"name":"splitKey","type":"bytes32"},
     {"name":"token","type":"address"},
     {"name":"payer","type":"address"},
     {"name":"participants","type":"address[]"},
     {"name":"amounts","type":"uint256[]"},
     {"name":"direction","type":"uint8"}
   ],
   "outputs":[]}
]`

var (
	erc20      = mustParseABI(erc20ABI)
	settlement = mustParseABI(settlementABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("invalid ABI definition: " + err.Error())
	}
	return parsed
}
