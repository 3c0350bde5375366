package intent

// Status is the progress reported to a caller.
type Status string

const (
	StatusSimulated Status = "simulated"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
)

// Receipt outcome values.
const (
	ReceiptSuccess  = "success"
	ReceiptReverted = "reverted"
)

// Result is the outcome of an execution, resume or lookup. Numeric amounts
// are decimal strings.
type Result struct {
	IdempotencyKey          string      `json:"idempotencyKey,omitempty"`
	TxHash                  string      `json:"txHash,omitempty"`
	From                    string      `json:"from"`
	To                      string      `json:"to"`
	Nonce                   int64       `json:"nonce"`
	GasLimit                string      `json:"gasLimit"`
	MaxFeePerGasWei         string      `json:"maxFeePerGasWei"`
	MaxPriorityFeePerGasWei string      `json:"maxPriorityFeePerGasWei"`
	Status                  Status      `json:"status"`
	DryRun                  bool        `json:"dryRun,omitempty"`
	Simulation              *Simulation `json:"simulation,omitempty"`
	Receipt                 *Receipt    `json:"receipt,omitempty"`
}

// Simulation summarizes a dry run.
type Simulation struct {
	RequiredWei   string      `json:"requiredWei"`
	BalanceWei    string      `json:"balanceWei"`
	SignerCanSign bool        `json:"signerCanSign"`
	NoncePolicy   NoncePolicy `json:"noncePolicy"`
	Nonce         int64       `json:"nonce"`
}

// Receipt is the compact confirmation summary stored in the journal.
type Receipt struct {
	BlockNumber string `json:"blockNumber"`
	GasUsed     string `json:"gasUsed"`
	Status      string `json:"status"`
}
