package near

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/tidwall/gjson"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/observability/metrics"
	"NFTMarket-Harness/pkg/logger"
)

const (
	MethodStatus            = "status"
	MethodBlock             = "block"
	MethodQuery             = "query"
	MethodBroadcastTxCommit = "broadcast_tx_commit"
	MethodTx                = "tx"

	// FinalityFinal is the finality every query is made at.
	FinalityFinal = "final"

	defaultRPCTimeout = 30 * time.Second
	defaultRetries    = 3
)

// ByteArray is a byte slice that travels as a JSON array of numbers, the
// way call_function results are returned.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(v)))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

type AccountView struct {
	Amount        Amount `json:"amount"`
	Locked        Amount `json:"locked"`
	CodeHash      string `json:"code_hash"`
	StorageUsage  uint64 `json:"storage_usage"`
	StoragePaidAt uint64 `json:"storage_paid_at"`
	BlockHeight   uint64 `json:"block_height"`
	BlockHash     string `json:"block_hash"`
}

// HasContract reports whether code is deployed on the account.
func (v AccountView) HasContract() bool {
	return v.CodeHash != "" && v.CodeHash != EmptyCodeHash
}

// EmptyCodeHash is the code_hash of an account without a contract.
const EmptyCodeHash = "11111111111111111111111111111111"

type AccessKeyView struct {
	Nonce       uint64          `json:"nonce"`
	Permission  json.RawMessage `json:"permission"`
	BlockHeight uint64          `json:"block_height"`
	BlockHash   string          `json:"block_hash"`
}

// IsFullAccess reports whether the permission is the FullAccess variant.
func (v AccessKeyView) IsFullAccess() bool {
	return gjson.ParseBytes(v.Permission).String() == "FullAccess"
}

type CallResult struct {
	Result      ByteArray `json:"result"`
	Logs        []string  `json:"logs"`
	Error       string    `json:"error,omitempty"`
	BlockHeight uint64    `json:"block_height"`
	BlockHash   string    `json:"block_hash"`
}

type BlockHeaderView struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`
	Timestamp uint64 `json:"timestamp"`
}

type BlockView struct {
	Author string          `json:"author"`
	Header BlockHeaderView `json:"header"`
}

type SyncInfo struct {
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockHeight uint64 `json:"latest_block_height"`
	LatestBlockTime   string `json:"latest_block_time"`
	Syncing           bool   `json:"syncing"`
}

type StatusView struct {
	ChainID  string   `json:"chain_id"`
	SyncInfo SyncInfo `json:"sync_info"`
	Version  struct {
		Version string `json:"version"`
		Build   string `json:"build"`
	} `json:"version"`
}

// RPCClient speaks NEAR JSON-RPC over HTTP.
type RPCClient struct {
	url     string
	http    *http.Client
	retries uint64
	logger  *slog.Logger
}

// RPCOption customises an RPCClient.
type RPCOption func(*RPCClient)

func WithHTTPClient(c *http.Client) RPCOption {
	return func(r *RPCClient) {
		if c != nil {
			r.http = c
		}
	}
}

// WithRetries bounds the retries of transient failures. Zero disables them.
func WithRetries(n uint64) RPCOption {
	return func(r *RPCClient) { r.retries = n }
}

func WithRPCLogger(l *slog.Logger) RPCOption {
	return func(r *RPCClient) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRPCClient(url string, opts ...RPCOption) *RPCClient {
	c := &RPCClient{
		url:     strings.TrimRight(url, "/"),
		http:    &http.Client{Timeout: defaultRPCTimeout},
		retries: defaultRetries,
		logger:  logger.Named("near.rpc"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the node endpoint.
func (c *RPCClient) URL() string { return c.url }

func (c *RPCClient) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = time.Minute
	return backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx)
}

// Call performs one JSON-RPC request, retrying transient failures with
// exponential backoff. A timeout of broadcast_tx_commit is returned as is so
// the caller can poll the transaction instead of resending it.
func (c *RPCClient) Call(ctx context.Context, method string, params, out any) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode rpc request")
	}
	attempt := 0
	op := func() error {
		attempt++
		err := c.do(ctx, method, body, out)
		if err == nil {
			return nil
		}
		if !xerrors.RetryableError(err) || xerrors.HasCode(err, CodeInvalidTransaction) {
			return backoff.Permanent(err)
		}
		if method == MethodBroadcastTxCommit && xerrors.HasCode(err, xerrors.CodeTimeout) {
			return backoff.Permanent(err)
		}
		c.logger.Debug("rpc call failed, retrying", slog.String("method", method), slog.Int("attempt", attempt), slog.Any("error", err))
		return err
	}
	return backoff.Retry(op, c.newBackOff(ctx))
}

func (c *RPCClient) do(ctx context.Context, method string, body []byte, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveRPC(method, string(Classify(err)), time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return xerrors.Wrap(CodeTransportFailure, err, "rpc "+method, xerrors.WithMetadata("url", c.url))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return xerrors.New(CodeTransportFailure, fmt.Sprintf("rpc %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return xerrors.New(CodeRPCFailure, fmt.Sprintf("rpc %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(snippet))), xerrors.WithRetryable(false))
	}

	if out == nil {
		var discard json.RawMessage
		out = &discard
	}
	err = json2.DecodeClientResponse(resp.Body, out)
	if err == nil {
		return nil
	}
	var rpcErr *json2.Error
	if errors.As(err, &rpcErr) {
		return classifyRPCError(method, rpcErr)
	}
	if errors.Is(err, json2.ErrNullResult) {
		return xerrors.New(CodeRPCFailure, "rpc "+method+" returned no result", xerrors.WithRetryable(false))
	}
	return xerrors.Wrap(CodeRPCFailure, err, "decode rpc "+method+" response", xerrors.WithRetryable(false))
}

// classifyRPCError maps node errors, which come in both the legacy
// {code,message,data} form and the structured {name,cause} form, onto codes.
func classifyRPCError(method string, rpcErr *json2.Error) error {
	data := ""
	switch v := rpcErr.Data.(type) {
	case string:
		data = v
	case nil:
	default:
		if raw, err := json.Marshal(v); err == nil {
			data = string(raw)
		}
	}
	parsed := gjson.Parse(data)
	text := rpcErr.Message + " " + data
	meta := xerrors.WithMetadata("method", method)

	if exec := parsed.Get("TxExecutionError"); exec.Exists() {
		return ParseFailure(exec.Raw).Err()
	}
	if parsed.Get("InvalidTxError").Exists() {
		return ParseFailure(data).Err()
	}
	switch {
	case strings.Contains(text, "TIMEOUT_ERROR"), strings.Contains(text, "Timeout"):
		return xerrors.New(xerrors.CodeTimeout, "rpc "+method+" timed out", meta)
	case method == MethodQuery && (strings.Contains(text, "wasm execution failed") ||
		strings.Contains(text, "Smart contract panicked") || strings.Contains(text, "CONTRACT_EXECUTION_ERROR")):
		return xerrors.New(CodeViewFailed, strings.TrimSpace(firstNonEmpty(data, rpcErr.Message)), meta)
	case strings.Contains(text, "UNKNOWN_ACCOUNT"), strings.Contains(text, "does not exist while viewing"),
		strings.Contains(text, "doesn't exist"), strings.Contains(text, "does not exist"):
		if strings.Contains(text, "access key") {
			return xerrors.New(xerrors.CodeNotFound, strings.TrimSpace(data), meta)
		}
		return xerrors.New(CodeAccountNotFound, strings.TrimSpace(firstNonEmpty(data, rpcErr.Message)), meta)
	case strings.Contains(text, "UNKNOWN_TRANSACTION"):
		return xerrors.New(xerrors.CodeNotFound, "transaction not found", meta, xerrors.WithRetryable(true))
	}
	retryable := rpcErr.Code == json2.E_INTERNAL || rpcErr.Code == json2.E_SERVER
	return xerrors.New(CodeRPCFailure, fmt.Sprintf("rpc %s: %s (%d) %s", method, rpcErr.Message, rpcErr.Code, data), meta, xerrors.WithRetryable(retryable))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Status returns node status.
func (c *RPCClient) Status(ctx context.Context) (*StatusView, error) {
	var out StatusView
	if err := c.Call(ctx, MethodStatus, []any{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Block returns the latest block at finality.
func (c *RPCClient) Block(ctx context.Context, finality string) (*BlockView, error) {
	if finality == "" {
		finality = FinalityFinal
	}
	var out BlockView
	if err := c.Call(ctx, MethodBlock, map[string]string{"finality": finality}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) ViewAccount(ctx context.Context, accountID string) (*AccountView, error) {
	var out AccountView
	err := c.Call(ctx, MethodQuery, map[string]string{
		"request_type": "view_account",
		"finality":     FinalityFinal,
		"account_id":   accountID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) ViewAccessKey(ctx context.Context, accountID string, pk PublicKey) (*AccessKeyView, error) {
	var out AccessKeyView
	err := c.Call(ctx, MethodQuery, map[string]string{
		"request_type": "view_access_key",
		"finality":     FinalityFinal,
		"account_id":   accountID,
		"public_key":   pk.String(),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CallFunction runs a view method. Older nodes report a contract panic in
// the result's error field instead of as an RPC error; both become
// VIEW_FAILED.
func (c *RPCClient) CallFunction(ctx context.Context, contractID, method string, args []byte) (*CallResult, error) {
	var out CallResult
	err := c.Call(ctx, MethodQuery, map[string]string{
		"request_type": "call_function",
		"finality":     FinalityFinal,
		"account_id":   contractID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(args),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != "" {
		return &out, xerrors.New(CodeViewFailed, out.Error, xerrors.WithMetadata("method", method), xerrors.WithMetadata("contract", contractID))
	}
	return &out, nil
}

// BroadcastTxCommit sends a signed transaction and waits for it to settle.
// When the node answers with a timeout the transaction may still land, so the
// outcome is polled with the tx method.
func (c *RPCClient) BroadcastTxCommit(ctx context.Context, st SignedTransaction) (*FinalExecutionOutcome, error) {
	encoded, err := st.Encode()
	if err != nil {
		return nil, err
	}
	var out FinalExecutionOutcome
	err = c.Call(ctx, MethodBroadcastTxCommit, []string{encoded}, &out)
	if err == nil {
		return &out, nil
	}
	if !xerrors.HasCode(err, xerrors.CodeTimeout) {
		return nil, err
	}
	hash, hashErr := st.HashString()
	if hashErr != nil {
		return nil, hashErr
	}
	c.logger.Warn("broadcast timed out, polling transaction", slog.String("hash", hash))
	return c.waitForOutcome(ctx, hash, st.Transaction.SignerID)
}

// TxStatus fetches the outcome of a known transaction.
func (c *RPCClient) TxStatus(ctx context.Context, hash, senderID string) (*FinalExecutionOutcome, error) {
	var out FinalExecutionOutcome
	if err := c.Call(ctx, MethodTx, []string{hash, senderID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RPCClient) waitForOutcome(ctx context.Context, hash, senderID string) (*FinalExecutionOutcome, error) {
	var outcome *FinalExecutionOutcome
	op := func() error {
		out, err := c.TxStatus(ctx, hash, senderID)
		if err != nil {
			if xerrors.HasCode(err, xerrors.CodeNotFound) || xerrors.RetryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		outcome = out
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "transaction "+hash+" did not settle")
	}
	return outcome, nil
}
