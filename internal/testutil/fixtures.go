package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Well-known test addresses and keys.
var (
	AddrTo     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	AddrOther  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	AddrSigner = common.HexToAddress("0x3333333333333333333333333333333333333333")

	// PrivateKeyHex is a throwaway secp256k1 key used by signer tests.
	PrivateKeyHex = "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	HashA = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	HashB = common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

// NewReceipt builds a mined receipt for hash.
func NewReceipt(hash common.Hash, status uint64, blockNumber int64, gasUsed uint64) *types.Receipt {
	return &types.Receipt{
		Status:            status,
		TxHash:            hash,
		BlockNumber:       big.NewInt(blockNumber),
		BlockHash:         common.HexToHash("0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"),
		GasUsed:           gasUsed,
		CumulativeGasUsed: gasUsed,
	}
}

// NewSuccessReceipt builds a successful receipt at block 100 using 21000 gas.
func NewSuccessReceipt(hash common.Hash) *types.Receipt {
	return NewReceipt(hash, types.ReceiptStatusSuccessful, 100, 21000)
}
