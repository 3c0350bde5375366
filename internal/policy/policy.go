// Package policy gates transaction intents against caller-configured limits.
//
// Enforce is a pure predicate: no network or disk access. It runs after
// simulation and estimation so it sees the real gas and fee numbers.
package policy

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/txwal/internal/txerr"
)

// Config is a resolved policy. Nil limits are unset.
type Config struct {
	Name                    string
	MaxValueWei             *big.Int
	MaxGasLimit             *big.Int
	MaxFeePerGasWei         *big.Int
	MaxPriorityFeePerGasWei *big.Int
	AllowedTo               []string
}

// Check holds the observed values of one transaction. Nil values are not checked.
type Check struct {
	To                      common.Address
	ValueWei                *big.Int
	GasLimit                *big.Int
	MaxFeePerGasWei         *big.Int
	MaxPriorityFeePerGasWei *big.Int
}

// Enforce evaluates every rule of cfg against c and returns a POLICY_VIOLATION
// error listing all failed rules, or nil.
//
// Limits are inclusive: a value equal to its limit passes.
func Enforce(cfg Config, c Check) error {
	violations := Violations(cfg, c)
	if len(violations) == 0 {
		return nil
	}
	return txerr.New(txerr.CodePolicyViolation, "Transaction blocked by policy checks.").
		WithDetails(map[string]any{
			"policy":     cfg.Name,
			"violations": violations,
		})
}

// Violations returns the message of each failed rule, in rule order.
func Violations(cfg Config, c Check) []string {
	var violations []string

	if len(cfg.AllowedTo) > 0 && !allowlisted(cfg.AllowedTo, c.To) {
		violations = append(violations,
			fmt.Sprintf("to address '%s' is not allowlisted by policy '%s'", c.To.Hex(), cfg.Name))
	}
	if exceeds(cfg.MaxValueWei, c.ValueWei) {
		violations = append(violations, fmt.Sprintf("value exceeds maxValueWei (%s)", cfg.MaxValueWei))
	}
	if exceeds(cfg.MaxGasLimit, c.GasLimit) {
		violations = append(violations, fmt.Sprintf("gas limit exceeds maxGasLimit (%s)", cfg.MaxGasLimit))
	}
	if exceeds(cfg.MaxFeePerGasWei, c.MaxFeePerGasWei) {
		violations = append(violations,
			fmt.Sprintf("max fee per gas exceeds maxFeePerGasWei (%s)", cfg.MaxFeePerGasWei))
	}
	if exceeds(cfg.MaxPriorityFeePerGasWei, c.MaxPriorityFeePerGasWei) {
		violations = append(violations,
			fmt.Sprintf("max priority fee per gas exceeds maxPriorityFeePerGasWei (%s)", cfg.MaxPriorityFeePerGasWei))
	}

	return violations
}

func allowlisted(allowed []string, to common.Address) bool {
	target := to.Hex()
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), target) {
			return true
		}
	}
	return false
}

func exceeds(limit, current *big.Int) bool {
	if limit == nil || current == nil {
		return false
	}
	return current.Cmp(limit) > 0
}
