package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/txwal/internal/config"
)

// Scenario is one scripted run against a fresh journal.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Chain is the initial chain script.
	Chain ChainScript `yaml:"chain"`

	// Signer is "signing" (default) or "readonly".
	Signer string `yaml:"signer,omitempty"`

	// Policy limits every send. Nil is unrestricted.
	Policy *config.Policy `yaml:"policy,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// ChainScript controls the fake chain and signer.
//
// A chain step updates BalanceWei and PendingNonce only when they are set,
// and replaces Receipt, Revert and SendError verbatim, so an empty value
// clears them.
type ChainScript struct {
	BalanceWei   string  `yaml:"balanceWei,omitempty"`
	PendingNonce *uint64 `yaml:"pendingNonce,omitempty"`

	// Receipt is "success", "reverted" or empty for a wait that times out.
	Receipt string `yaml:"receipt,omitempty"`

	// Revert makes simulation fail with this message.
	Revert string `yaml:"revert,omitempty"`

	// SendError makes the broadcast fail with this message.
	SendError string `yaml:"sendError,omitempty"`
}

// Step is one operation in a scenario.
type Step struct {
	Op  string `yaml:"op"`
	Key string `yaml:"key,omitempty"`

	// Intent fields for send. To defaults to testutil.AddrTo.
	To          string  `yaml:"to,omitempty"`
	ValueWei    string  `yaml:"valueWei,omitempty"`
	Data        string  `yaml:"data,omitempty"`
	NoncePolicy string  `yaml:"noncePolicy,omitempty"`
	Nonce       *uint64 `yaml:"nonce,omitempty"`
	Wait        bool    `yaml:"wait,omitempty"`
	DryRun      bool    `yaml:"dryRun,omitempty"`

	// Chain is the new script for op: chain.
	Chain *ChainScript `yaml:"chain,omitempty"`

	// Expect checks the step outcome. A nil Expect requires success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step. Set Status or Code, not both.
type Expect struct {
	Status string `yaml:"status,omitempty"`
	Code   string `yaml:"code,omitempty"`
}

// Assertion validates final journal or signer state.
type Assertion struct {
	Type   string `yaml:"type"`
	Key    string `yaml:"key,omitempty"`
	Status string `yaml:"status,omitempty"`
	Nonce  int64  `yaml:"nonce,omitempty"`
	Count  int    `yaml:"count,omitempty"`
}

// Step operations.
const (
	OpSend   = "send"
	OpResume = "resume"
	OpStatus = "status"
	OpChain  = "chain"
)

// Assertion types.
const (
	AssertJournalStatus = "journal_status"
	AssertJournalNonce  = "journal_nonce"
	AssertJournalCount  = "journal_count"
	AssertSendCount     = "send_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so a typo cannot silently drop an assertion.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Signer {
	case "", "signing", "readonly":
	default:
		return fmt.Errorf("signer must be signing or readonly, got %q", s.Signer)
	}
	if err := validateChain("chain", s.Chain); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateChain(where string, c ChainScript) error {
	switch c.Receipt {
	case "", "success", "reverted":
		return nil
	}
	return fmt.Errorf("%s: receipt must be success, reverted or empty, got %q", where, c.Receipt)
}

func validateStep(i int, step Step) error {
	switch step.Op {
	case OpSend:
	case OpResume, OpStatus:
		if step.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for %s", i, step.Op)
		}
	case OpChain:
		if step.Chain == nil {
			return fmt.Errorf("steps[%d]: chain is required for op chain", i)
		}
		return validateChain(fmt.Sprintf("steps[%d].chain", i), *step.Chain)
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}

	if step.Expect != nil && step.Expect.Status != "" && step.Expect.Code != "" {
		return fmt.Errorf("steps[%d].expect: set status or code, not both", i)
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertJournalStatus:
		if a.Key == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: key and status are required for %s", i, a.Type)
		}
	case AssertJournalNonce:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for %s", i, a.Type)
		}
	case AssertJournalCount, AssertSendCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", i, a.Type)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
