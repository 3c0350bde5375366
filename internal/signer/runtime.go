package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/txerr"
)

// Backend status values.
const (
	BackendReady       = "ready"
	BackendUnavailable = "unavailable"
)

// Summary describes what a resolved signer can do.
type Summary struct {
	SignerType    Type            `json:"signerType"`
	Address       *common.Address `json:"address,omitempty"`
	Nonce         *uint64         `json:"nonce,omitempty"`
	BalanceWei    *big.Int        `json:"balanceWei,omitempty"`
	CanSign       bool            `json:"canSign"`
	BackendStatus string          `json:"backendStatus"`
}

// SendRequest is a fully resolved transaction.
type SendRequest struct {
	ChainID              *big.Int
	To                   common.Address
	Data                 []byte
	Value                *big.Int
	Nonce                uint64
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// SendFunc signs and broadcasts req, returning the transaction hash.
type SendFunc func(ctx context.Context, req SendRequest) (common.Hash, error)

// Runtime is a resolved signer. Send is nil when the signer cannot submit.
type Runtime struct {
	Summary Summary
	Send    SendFunc
}

// Resolver turns a signer Config into a Runtime bound to a chain client.
type Resolver interface {
	Resolve(ctx context.Context, cfg Config, client chain.Client, rpcURL string, c chain.Chain) (Runtime, error)
}

// DefaultResolver supports readonly and env signers. Keychain, ledger and
// remote backends report SIGNER_BACKEND_UNAVAILABLE.
type DefaultResolver struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Resolve implements Resolver.
func (r DefaultResolver) Resolve(ctx context.Context, cfg Config, client chain.Client, _ string, c chain.Chain) (Runtime, error) {
	switch cfg.Type {
	case TypeReadonly, "":
		return Runtime{Summary: Summary{
			SignerType:    TypeReadonly,
			Address:       cfg.Address,
			CanSign:       false,
			BackendStatus: BackendReady,
		}}, nil

	case TypeKeychain, TypeLedger, TypeRemote:
		return Runtime{}, txerr.Newf(txerr.CodeSignerBackendUnavailable,
			"%s signer backend is not implemented yet.", cfg.Type).
			WithDetails(map[string]any{"signer": cfg.String()})

	case TypeEnv:
		return r.resolveEnv(ctx, cfg, client, c)
	}

	return Runtime{}, txerr.Newf(txerr.CodeInvalidSignerSpec, "Unsupported signer type '%s'.", cfg.Type)
}

func (r DefaultResolver) resolveEnv(ctx context.Context, cfg Config, client chain.Client, c chain.Chain) (Runtime, error) {
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	raw, ok := lookup(cfg.EnvVar)
	if !ok || raw == "" {
		return Runtime{}, txerr.Newf(txerr.CodeMissingSignerSecret, "Missing environment variable '%s'.", cfg.EnvVar)
	}
	key, err := parsePrivateKey(raw, cfg.EnvVar)
	if err != nil {
		return Runtime{}, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	var (
		nonce   uint64
		balance *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nonce, err = client.PendingNonce(gctx, addr)
		return err
	})
	g.Go(func() error {
		var err error
		balance, err = client.Balance(gctx, addr)
		return err
	})
	if err := g.Wait(); err != nil {
		return Runtime{}, err
	}

	return Runtime{
		Summary: Summary{
			SignerType:    TypeEnv,
			Address:       &addr,
			Nonce:         &nonce,
			BalanceWei:    balance,
			CanSign:       true,
			BackendStatus: BackendReady,
		},
		Send: localSender(key, client, new(big.Int).SetUint64(c.ChainID)),
	}, nil
}

// localSender signs EIP-1559 transactions with key and broadcasts them
// through client.
func localSender(key *ecdsa.PrivateKey, client chain.Client, chainID *big.Int) SendFunc {
	return func(ctx context.Context, req SendRequest) (common.Hash, error) {
		id := req.ChainID
		if id == nil {
			id = chainID
		}
		to := req.To
		value := req.Value
		if value == nil {
			value = new(big.Int)
		}

		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   id,
			Nonce:     req.Nonce,
			GasTipCap: req.MaxPriorityFeePerGas,
			GasFeeCap: req.MaxFeePerGas,
			Gas:       req.GasLimit,
			To:        &to,
			Value:     value,
			Data:      req.Data,
		})
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(id), key)
		if err != nil {
			return common.Hash{}, err
		}
		if err := client.SendRawTransaction(ctx, signed); err != nil {
			return common.Hash{}, err
		}
		return signed.Hash(), nil
	}
}

func parsePrivateKey(value, envVar string) (*ecdsa.PrivateKey, error) {
	if !privKeyPattern.MatchString(value) {
		return nil, txerr.Newf(txerr.CodeInvalidPrivateKey,
			"Environment variable '%s' is not a valid private key.", envVar)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return nil, txerr.Newf(txerr.CodeInvalidPrivateKey,
			"Environment variable '%s' is not a valid private key.", envVar).WithCause(err)
	}
	return key, nil
}
