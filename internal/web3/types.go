package web3

import "context"

// ChainSnapshot summarises the node a client is connected to.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockHeight uint64 `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	Syncing     bool   `json:"syncing"`
	Notes       string `json:"notes,omitempty"`
}

// Client is what the registry hands out per network so higher layers can stay
// independent from the concrete NEAR client.
type Client interface {
	Network() NetworkConfig
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
