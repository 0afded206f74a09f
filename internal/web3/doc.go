// Package web3 holds the network table and the client contract shared by the
// NEAR client, the in-process sandbox and the registry. Subpackages provide
// the JSON-RPC client (near), a simulated node (sandbox) and the per-network
// client registry (provider).
package web3
