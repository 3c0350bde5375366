// Package intent holds the transaction request and result model.
package intent

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/txwal/internal/policy"
	"github.com/roach88/txwal/internal/signer"
	"github.com/roach88/txwal/internal/txerr"
)

// NoncePolicy selects how a nonce is assigned.
type NoncePolicy string

const (
	// NonceSafe uses the signer's pending-inclusive transaction count.
	NonceSafe NoncePolicy = "safe"

	// NonceReplace reuses the nonce of a prior unconfirmed attempt under the
	// same key, so a stuck transaction can be rebroadcast at a higher fee.
	NonceReplace NoncePolicy = "replace"

	// NonceManual uses TxIntent.Nonce verbatim.
	NonceManual NoncePolicy = "manual"
)

// ParseNoncePolicy accepts safe, replace or manual. Empty is safe.
func ParseNoncePolicy(s string) (NoncePolicy, error) {
	switch NoncePolicy(s) {
	case "", NonceSafe:
		return NonceSafe, nil
	case NonceReplace, NonceManual:
		return NoncePolicy(s), nil
	}
	return "", txerr.Newf(txerr.CodeInvalidArgument,
		"Invalid nonce policy '%s'. Use safe, replace, or manual.", s)
}

// DefaultTimeout bounds a receipt wait when TxIntent.Timeout is unset.
const DefaultTimeout = 120 * time.Second

// TxIntent is one caller request. It is not modified by the engine.
type TxIntent struct {
	// IdempotencyKey is trusted verbatim when set; otherwise derived.
	IdempotencyKey string

	ProfileName string
	ChainID     uint64
	RPCURL      string
	Signer      signer.Config
	Policy      policy.Config

	To       common.Address
	Data     []byte
	ValueWei *big.Int

	NoncePolicy NoncePolicy
	// Nonce is required when NoncePolicy is manual.
	Nonce *uint64

	WaitForReceipt bool
	DryRun         bool
	Timeout        time.Duration

	// Command labels the journal row for audit.
	Command string
}

// Validate checks the intent without touching the network or the journal.
func (t TxIntent) Validate() error {
	if _, err := ParseNoncePolicy(string(t.NoncePolicy)); err != nil {
		return err
	}
	if t.NoncePolicy == NonceManual && t.Nonce == nil {
		return txerr.New(txerr.CodeMissingNonce, "Nonce is required when nonce policy is manual.")
	}
	if t.ValueWei != nil && t.ValueWei.Sign() < 0 {
		return txerr.New(txerr.CodeInvalidArgument, "Value must not be negative.")
	}
	return nil
}

// EffectiveNoncePolicy returns the policy with the empty default applied.
func (t TxIntent) EffectiveNoncePolicy() NoncePolicy {
	if t.NoncePolicy == "" {
		return NonceSafe
	}
	return t.NoncePolicy
}

// Value returns ValueWei or zero.
func (t TxIntent) Value() *big.Int {
	if t.ValueWei == nil {
		return new(big.Int)
	}
	return t.ValueWei
}

// EffectiveTimeout returns Timeout or DefaultTimeout.
func (t TxIntent) EffectiveTimeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}
