// Package engine drives one transaction intent through the submission state
// machine and exposes the journal-backed resume, watch and lookup accessors.
//
// Execution order for a non-dry-run intent:
//
//  1. Validate the intent and resolve its idempotency key.
//  2. Look up the journal entry. Confirmed entries return without any RPC.
//     Submitted entries return as-is, or re-attach to the receipt wait.
//  3. Preflight the RPC endpoint and resolve the signer runtime.
//  4. Simulate, estimate gas and fees, check the balance, enforce policy.
//  5. Assign a nonce, journal the prepared row, sign and submit, journal
//     the hash, and optionally wait for and journal the receipt.
//
// Any failure after preflight succeeds is recorded once, at the top level,
// before it is returned. Earlier failures leave the journal untouched.
// Unclassified errors become TX_EXECUTION_FAILED with a correlation id. Dry
// runs stop after the policy check and never write to the journal.
//
// Calls for the same idempotency key are serialized within a process.
// Separate processes sharing one journal are not coordinated.
package engine
