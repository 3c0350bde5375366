// Package harness runs transaction scenarios against a real engine and
// journal with a scripted chain and signer.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: crash_resume
//	description: "A submitted key is re-attached, never re-broadcast"
//	chain:
//	  balanceWei: "1000000000"
//	  pendingNonce: 7
//	policy:
//	  maxValueWei: "1000"
//	steps:
//	  - op: send
//	    key: order-1
//	    valueWei: "10"
//	    expect: { status: submitted }
//	  - op: chain
//	    chain: { receipt: success }
//	  - op: send
//	    key: order-1
//	    wait: true
//	    expect: { status: confirmed }
//	assertions:
//	  - type: send_count
//	    count: 1
//	  - type: journal_status
//	    key: order-1
//	    status: confirmed
//
// # Step Operations
//
//   - send: Engine.Execute with the step's intent fields
//   - resume: Engine.Resume for key
//   - status: Engine.EntryByIdempotencyKey for key
//   - chain: rescript the chain between steps
//
// # Assertion Types
//
//   - journal_status: the entry for key has status
//   - journal_nonce: the entry for key has nonce
//   - journal_count: the journal holds exactly count entries
//   - send_count: the signer was asked to broadcast exactly count times
//
// # Deterministic Testing
//
// The chain, signer, correlation ids and journal clock are all fixed, so a
// scenario's trace is byte-stable and can be compared against a golden file
// with RunWithGolden.
package harness
