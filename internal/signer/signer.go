// Package signer parses signer descriptors and resolves them into a signing
// runtime.
package signer

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/txwal/internal/txerr"
)

// Type is the signer backend kind.
type Type string

const (
	TypeReadonly Type = "readonly"
	TypeEnv      Type = "env"
	TypeKeychain Type = "keychain"
	TypeLedger   Type = "ledger"
	TypeRemote   Type = "remote"
)

// Config is a parsed signer descriptor. Only the fields of Type are set.
type Config struct {
	Type Type `json:"type"`

	// Address is an optional watch address for readonly signers.
	Address *common.Address `json:"address,omitempty"`

	EnvVar         string `json:"envVar,omitempty"`
	AccountID      string `json:"accountId,omitempty"`
	DerivationPath string `json:"derivationPath,omitempty"`
	URL            string `json:"url,omitempty"`
}

var (
	envVarPattern  = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
	remotePattern  = regexp.MustCompile(`(?i)^https?://`)
	privKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// Parse reads a signer spec: readonly[:0xaddr], env:VAR, keychain:<id>,
// ledger[:path] or remote:<http(s) url>. An empty spec is readonly.
func Parse(spec string) (Config, error) {
	switch {
	case spec == "" || spec == "readonly":
		return Config{Type: TypeReadonly}, nil

	case strings.HasPrefix(spec, "readonly:"):
		addr := strings.TrimSpace(strings.TrimPrefix(spec, "readonly:"))
		if !common.IsHexAddress(addr) {
			return Config{}, invalidSpec("Invalid readonly signer format '%s'.", spec)
		}
		a := common.HexToAddress(addr)
		return Config{Type: TypeReadonly, Address: &a}, nil

	case strings.HasPrefix(spec, "env:"):
		envVar := strings.TrimPrefix(spec, "env:")
		if !envVarPattern.MatchString(envVar) {
			return Config{}, invalidSpec("Invalid env signer format '%s'.", spec)
		}
		return Config{Type: TypeEnv, EnvVar: envVar}, nil

	case strings.HasPrefix(spec, "keychain:"):
		id := strings.TrimSpace(strings.TrimPrefix(spec, "keychain:"))
		if id == "" {
			return Config{}, invalidSpec("Invalid keychain signer format '%s'.", spec)
		}
		return Config{Type: TypeKeychain, AccountID: id}, nil

	case spec == "ledger":
		return Config{Type: TypeLedger}, nil

	case strings.HasPrefix(spec, "ledger:"):
		return Config{Type: TypeLedger, DerivationPath: strings.TrimPrefix(spec, "ledger:")}, nil

	case strings.HasPrefix(spec, "remote:"):
		url := strings.TrimSpace(strings.TrimPrefix(spec, "remote:"))
		if !remotePattern.MatchString(url) {
			return Config{}, invalidSpec("Invalid remote signer format '%s'.", spec)
		}
		return Config{Type: TypeRemote, URL: url}, nil
	}

	return Config{}, invalidSpec(
		"Unsupported signer '%s'. Use readonly, env:<ENV_VAR>, keychain:<id>, ledger[:path], or remote:<url>.", spec)
}

// String renders c back into spec form.
func (c Config) String() string {
	switch c.Type {
	case TypeReadonly:
		if c.Address != nil {
			return "readonly:" + c.Address.Hex()
		}
		return "readonly"
	case TypeEnv:
		return "env:" + c.EnvVar
	case TypeKeychain:
		return "keychain:" + c.AccountID
	case TypeLedger:
		if c.DerivationPath != "" {
			return "ledger:" + c.DerivationPath
		}
		return "ledger"
	case TypeRemote:
		return "remote:" + c.URL
	}
	return string(c.Type)
}

func invalidSpec(format, spec string) *txerr.Error {
	return txerr.Newf(txerr.CodeInvalidSignerSpec, format, spec)
}
