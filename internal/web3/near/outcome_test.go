package near

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NFTMarket-Harness/internal/errors"
)

const mintOutcome = `{
  "status": {"SuccessValue": "IjE6NSI="},
  "transaction": {"signer_id": "guest.test.near", "public_key": "ed25519:x", "nonce": 3, "receiver_id": "nft.test.near", "hash": "9Xh"},
  "transaction_outcome": {"id": "9Xh", "block_hash": "b", "outcome": {"logs": [], "receipt_ids": ["r1"], "gas_burnt": 1, "tokens_burnt": "0", "executor_id": "guest.test.near", "status": {"SuccessReceiptId": "r1"}}},
  "receipts_outcome": [
    {"id": "r1", "block_hash": "b", "outcome": {"logs": ["EVENT_JSON:{\"standard\":\"nep171\",\"version\":\"1.0.0\",\"event\":\"nft_mint\",\"data\":[{\"owner_id\":\"guest.test.near\",\"token_ids\":[\"1:5\"]}]}", "plain log"], "receipt_ids": [], "gas_burnt": 2, "tokens_burnt": "0", "executor_id": "nft.test.near", "status": {"SuccessValue": "IjE6NSI="}}},
    {"id": "r2", "block_hash": "b", "outcome": {"logs": [], "receipt_ids": [], "gas_burnt": 2, "tokens_burnt": "0", "executor_id": "market.test.near", "status": {"Failure": {"ActionError": {"index": 0, "kind": {"FunctionCallError": {"ExecutionError": "Smart contract panicked: boom"}}}}}}}
  ]
}`

func TestFinalExecutionOutcomeDecoding(t *testing.T) {
	var outcome FinalExecutionOutcome
	require.NoError(t, json.Unmarshal([]byte(mintOutcome), &outcome))

	assert.NoError(t, outcome.Err())
	assert.Equal(t, "9Xh", outcome.Hash())
	assert.Equal(t, []string{"1:5"}, outcome.EventTokenIDs("nft_mint"))
	assert.Len(t, outcome.Logs(), 2)

	var tokenID string
	require.NoError(t, outcome.DecodeValue(&tokenID))
	assert.Equal(t, "1:5", tokenID)

	failures := outcome.ReceiptFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, "Smart contract panicked: boom", failures[0].Message)
}

func TestFailedOutcome(t *testing.T) {
	raw := `{"status":{"Failure":{"ActionError":{"index":0,"kind":{"FunctionCallError":{"ExecutionError":"Smart contract panicked: Paras: Owner only"}}}}},"transaction":{"hash":"h"},"transaction_outcome":{"id":"h","outcome":{"status":"Unknown"}},"receipts_outcome":[]}`
	var outcome FinalExecutionOutcome
	require.NoError(t, json.Unmarshal([]byte(raw), &outcome))

	err := outcome.Err()
	require.Error(t, err)
	assert.Equal(t, CodeContractRejected, xerrors.CodeOf(err))
	assert.Equal(t, "Unknown", outcome.TransactionOutcome.Outcome.Status.Pending)
}

func TestExecutionStatusRoundTrip(t *testing.T) {
	value := base64.StdEncoding.EncodeToString([]byte(`"ok"`))
	for _, status := range []ExecutionStatus{
		{SuccessValue: &value},
		{SuccessReceiptID: "r9"},
		{Failure: json.RawMessage(`{"ActionError":{"index":0}}`)},
		{Pending: "Started"},
	} {
		raw, err := json.Marshal(status)
		require.NoError(t, err)
		var back ExecutionStatus
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, status, back)
	}
}
