// Package sandbox runs a simulated NEAR node in process. It speaks the
// JSON-RPC subset the near client uses, verifies and applies signed
// transactions against an in-memory ledger and hosts built-in Go versions
// of the NFT series and Paras marketplace contracts. Scenarios run against
// it without a network; there is no consensus and no wasm.
package sandbox
