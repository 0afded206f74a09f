package near

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	xerrors "NFTMarket-Harness/internal/errors"
)

func rpcServer(t *testing.T, handle func(method string, params gjson.Result) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		req := gjson.ParseBytes(body)
		status, payload := handle(req.Get("method").String(), req.Get("params"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCallFunctionDecodesByteArray(t *testing.T) {
	srv := rpcServer(t, func(method string, params gjson.Result) (int, string) {
		assert.Equal(t, MethodQuery, method)
		assert.Equal(t, "call_function", params.Get("request_type").String())
		assert.Equal(t, "nft_supply_for_type", params.Get("method_name").String())
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"result":[34,51,34],"logs":[],"block_height":9,"block_hash":"h"}}`
	})

	client := NewRPCClient(srv.URL, WithRetries(0))
	res, err := client.CallFunction(context.Background(), "nft.test.near", "nft_supply_for_type", []byte(`{"token_type":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, `"3"`, string(res.Result))
}

func TestUnknownAccountIsClassified(t *testing.T) {
	srv := rpcServer(t, func(string, gjson.Result) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"Server error","data":"account ghost.test.near does not exist while viewing"}}`
	})

	_, err := NewRPCClient(srv.URL, WithRetries(0)).ViewAccount(context.Background(), "ghost.test.near")
	require.Error(t, err)
	assert.Equal(t, CodeAccountNotFound, xerrors.CodeOf(err))
	assert.Equal(t, OutcomeRejected, Classify(err))
}

func TestViewPanicIsViewFailure(t *testing.T) {
	srv := rpcServer(t, func(string, gjson.Result) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"Server error","data":"wasm execution failed with error: FunctionCallError(HostError(GuestPanic { panic_msg: \"Paras: Market data does not exist\" }))"}}`
	})

	_, err := NewRPCClient(srv.URL, WithRetries(0)).CallFunction(context.Background(), "market.test.near", "get_market_data", nil)
	assert.Equal(t, CodeViewFailed, xerrors.CodeOf(err))
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := rpcServer(t, func(string, gjson.Result) (int, string) {
		if calls.Add(1) < 3 {
			return http.StatusServiceUnavailable, "overloaded"
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"chain_id":"sandbox","sync_info":{"latest_block_hash":"h","latest_block_height":12,"syncing":false}}}`
	})

	status, err := NewRPCClient(srv.URL, WithRetries(3)).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), status.SyncInfo.LatestBlockHeight)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvalidTransactionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := rpcServer(t, func(string, gjson.Result) (int, string) {
		calls.Add(1)
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"Server error","data":{"TxExecutionError":{"InvalidTxError":{"InvalidNonce":{"tx_nonce":1,"ak_nonce":4}}}}}}`
	})

	err := NewRPCClient(srv.URL, WithRetries(3)).Call(context.Background(), MethodBroadcastTxCommit, []string{"AA=="}, nil)
	te, ok := AsTxError(err)
	require.True(t, ok)
	assert.Equal(t, "InvalidNonce", te.Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBroadcastTimeoutPollsTx(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	signed, err := SignTransaction(Transaction{SignerID: "alice.test.near", PublicKey: kp.PublicKey(), Nonce: 1, ReceiverID: "bob.test.near",
		Actions: []Action{NewTransferAction(NewAmount(1))}}, kp)
	require.NoError(t, err)
	hash, err := signed.HashString()
	require.NoError(t, err)

	var polls atomic.Int32
	srv := rpcServer(t, func(method string, params gjson.Result) (int, string) {
		switch method {
		case MethodBroadcastTxCommit:
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"Server error","data":"TIMEOUT_ERROR"}}`
		case MethodTx:
			assert.Equal(t, hash, params.Get("0").String())
			if polls.Add(1) == 1 {
				return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"Server error","data":"UNKNOWN_TRANSACTION"}}`
			}
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"status":{"SuccessValue":""},"transaction":{"hash":"` + hash + `"},"transaction_outcome":{"id":"` + hash + `","outcome":{"status":{"SuccessValue":""}}},"receipts_outcome":[]}}`
		}
		return http.StatusNotFound, ""
	})

	outcome, err := NewRPCClient(srv.URL, WithRetries(0)).BroadcastTxCommit(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, hash, outcome.Hash())
	assert.Equal(t, int32(2), polls.Load())
}
