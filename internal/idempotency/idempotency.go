// Package idempotency derives stable keys for transaction intents.
//
// A derived key is SHA-256 over the RFC 8785 canonical JSON of the intent's
// semantic fields, with a domain prefix so keys can never collide with other
// hashes computed over the same bytes.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/txwal/internal/intent"
)

// DomainIntent prefixes every derived key. Bump the version to migrate.
const DomainIntent = "txwal/intent/v1"

// Fingerprint is the hashed view of an intent.
type Fingerprint struct {
	Command     string  `json:"command"`
	ProfileName string  `json:"profileName"`
	ChainID     uint64  `json:"chainId"`
	To          string  `json:"to"`
	Data        string  `json:"data"`
	ValueWei    string  `json:"valueWei"`
	NoncePolicy string  `json:"noncePolicy"`
	Nonce       *uint64 `json:"nonce,omitempty"`
}

// FingerprintOf extracts the semantic fields of in. Free text is NFC
// normalized and the address is lowercased so equivalent spellings collapse.
func FingerprintOf(in intent.TxIntent) Fingerprint {
	data := "0x"
	if len(in.Data) > 0 {
		data = hexutil.Encode(in.Data)
	}
	return Fingerprint{
		Command:     norm.NFC.String(in.Command),
		ProfileName: norm.NFC.String(in.ProfileName),
		ChainID:     in.ChainID,
		To:          strings.ToLower(in.To.Hex()),
		Data:        data,
		ValueWei:    in.Value().String(),
		NoncePolicy: string(in.EffectiveNoncePolicy()),
		Nonce:       in.Nonce,
	}
}

// Derive computes the key for in, ignoring any caller-supplied key.
func Derive(in intent.TxIntent) (string, error) {
	raw, err := json.Marshal(FingerprintOf(in))
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint: %w", err)
	}
	return hashWithDomain(DomainIntent, canonical), nil
}

// Resolve returns the caller's key verbatim when set, otherwise Derive.
func Resolve(in intent.TxIntent) (string, error) {
	if in.IdempotencyKey != "" {
		return in.IdempotencyKey, nil
	}
	return Derive(in)
}

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
