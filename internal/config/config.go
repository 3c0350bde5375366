// Package config loads the txwal home directory: profiles, policies and the
// journal location.
//
// The config file is YAML at <home>/config.yaml. A missing file is an empty
// config; unknown keys are rejected so typos surface as CONFIG_INVALID
// instead of silently dropping a limit.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/roach88/txwal/internal/chain"
	"github.com/roach88/txwal/internal/policy"
	"github.com/roach88/txwal/internal/signer"
	"github.com/roach88/txwal/internal/txerr"
)

const (
	// HomeEnv overrides the default home directory.
	HomeEnv = "TXWAL_HOME"

	// FileName is the config file inside home.
	FileName = "config.yaml"

	// JournalFileName is the journal database inside home.
	JournalFileName = "journal.sqlite"

	// UnrestrictedPolicy names the policy used when a profile sets none.
	UnrestrictedPolicy = "unrestricted"
)

// File is the on-disk config document.
type File struct {
	ActiveProfile string             `yaml:"activeProfile,omitempty"`
	Profiles      map[string]Profile `yaml:"profiles,omitempty"`
	Policies      map[string]Policy  `yaml:"policies,omitempty"`
}

// Profile binds a chain, endpoint, signer and policy under one name.
type Profile struct {
	// Chain is a preset name or numeric chain id. Empty is base.
	Chain string `yaml:"chain,omitempty"`

	// ChainID pins the expected id. It must agree with Chain when both are set.
	ChainID uint64 `yaml:"chainId,omitempty"`

	RPCURL string `yaml:"rpcUrl,omitempty"`

	// Signer is a signer descriptor such as "env:TXWAL_PRIVATE_KEY". Empty is readonly.
	Signer string `yaml:"signer,omitempty"`

	// Policy names an entry in File.Policies. Empty applies no limits.
	Policy string `yaml:"policy,omitempty"`
}

// Policy is the serialized form of policy.Config. Limits are decimal strings.
type Policy struct {
	MaxValueWei             string   `yaml:"maxValueWei,omitempty"`
	MaxGasLimit             string   `yaml:"maxGasLimit,omitempty"`
	MaxFeePerGasWei         string   `yaml:"maxFeePerGasWei,omitempty"`
	MaxPriorityFeePerGasWei string   `yaml:"maxPriorityFeePerGasWei,omitempty"`
	AllowedTo               []string `yaml:"allowedTo,omitempty"`
}

// Resolved is a profile with every reference parsed.
type Resolved struct {
	Name   string
	Chain  chain.Chain
	RPCURL string
	Signer signer.Config
	Policy policy.Config
}

// ResolveHome picks the home directory: flag, then TXWAL_HOME, then ~/.txwal.
func ResolveHome(flag string, getenv func(string) string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if getenv != nil {
		if v := getenv(HomeEnv); v != "" {
			return v, nil
		}
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(dir, ".txwal"), nil
}

// Path returns the config file path inside home.
func Path(home string) string {
	return filepath.Join(home, FileName)
}

// JournalPath returns the journal database path inside home.
func JournalPath(home string) string {
	return filepath.Join(home, JournalFileName)
}

// EnsureHome creates home with owner-only permissions.
func EnsureHome(home string) error {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return fmt.Errorf("create home %s: %w", home, err)
	}
	return nil
}

// Load reads the config in home. A missing file yields an empty File.
func Load(home string) (*File, error) {
	path := Path(home)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &File{}, nil
	}
	if err != nil {
		return nil, txerr.Newf(txerr.CodeConfigInvalid, "Cannot read config '%s'.", path).WithCause(err)
	}
	return Parse(data, path)
}

// Parse decodes a config document. source labels errors.
func Parse(data []byte, source string) (*File, error) {
	var f File
	if len(bytes.TrimSpace(data)) == 0 {
		return &f, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, txerr.Newf(txerr.CodeConfigInvalid, "Invalid config '%s'.", source).
			WithDetails(map[string]any{"reason": err.Error()}).
			WithCause(err)
	}
	return &f, nil
}

// Profile resolves the named profile, or the active one when name is empty.
func (f *File) Profile(name string) (Resolved, error) {
	selected := name
	if selected == "" {
		selected = f.ActiveProfile
	}
	if selected == "" {
		return Resolved{}, txerr.New(txerr.CodeProfileNotFound, "No profile selected and no activeProfile configured.").
			WithDetails(map[string]any{"available": f.profileNames()})
	}

	p, ok := f.Profiles[selected]
	if !ok {
		return Resolved{}, txerr.Newf(txerr.CodeProfileNotFound, "Profile '%s' does not exist.", selected).
			WithDetails(map[string]any{"available": f.profileNames()})
	}

	c, err := chain.Resolve(p.Chain)
	if err != nil {
		return Resolved{}, err
	}
	if p.ChainID != 0 && p.ChainID != c.ChainID {
		return Resolved{}, txerr.Newf(txerr.CodeConfigInvalid,
			"Profile '%s' sets chainId %d but chain '%s' is %d.", selected, p.ChainID, c.Key, c.ChainID)
	}

	sc, err := signer.Parse(p.Signer)
	if err != nil {
		return Resolved{}, err
	}

	pol, err := f.Policy(p.Policy)
	if err != nil {
		return Resolved{}, err
	}

	return Resolved{
		Name:   selected,
		Chain:  c,
		RPCURL: p.RPCURL,
		Signer: sc,
		Policy: pol,
	}, nil
}

// Policy resolves the named policy. An empty name is the unrestricted policy.
func (f *File) Policy(name string) (policy.Config, error) {
	if name == "" {
		return policy.Config{Name: UnrestrictedPolicy}, nil
	}
	p, ok := f.Policies[name]
	if !ok {
		return policy.Config{}, txerr.Newf(txerr.CodePolicyNotFound, "Policy '%s' does not exist.", name)
	}

	cfg := policy.Config{Name: name}
	limits := []struct {
		field string
		raw   string
		dst   **big.Int
	}{
		{"maxValueWei", p.MaxValueWei, &cfg.MaxValueWei},
		{"maxGasLimit", p.MaxGasLimit, &cfg.MaxGasLimit},
		{"maxFeePerGasWei", p.MaxFeePerGasWei, &cfg.MaxFeePerGasWei},
		{"maxPriorityFeePerGasWei", p.MaxPriorityFeePerGasWei, &cfg.MaxPriorityFeePerGasWei},
	}
	for _, l := range limits {
		v, err := parseLimit(l.raw)
		if err != nil {
			return policy.Config{}, txerr.Newf(txerr.CodeConfigInvalid,
				"Policy '%s' field %s must be a non-negative integer string.", name, l.field).
				WithDetails(map[string]any{"value": l.raw})
		}
		*l.dst = v
	}

	for _, addr := range p.AllowedTo {
		if !common.IsHexAddress(addr) || !strings.HasPrefix(addr, "0x") {
			return policy.Config{}, txerr.Newf(txerr.CodeConfigInvalid,
				"Policy '%s' allowedTo entry is not an EVM address.", name).
				WithDetails(map[string]any{"value": addr})
		}
		cfg.AllowedTo = append(cfg.AllowedTo, addr)
	}
	return cfg, nil
}

func (f *File) profileNames() []string {
	names := make([]string, 0, len(f.Profiles))
	for n := range f.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// parseLimit returns nil for an unset limit.
func parseLimit(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid digit %q", r)
		}
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}
