package near

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/observability/metrics"
	"NFTMarket-Harness/pkg/logger"
)

// Account signs transactions for one account id with the key found in the
// connection's key store.
type Account struct {
	conn   *Connection
	id     string
	logger *slog.Logger

	mu     sync.Mutex
	nonces map[string]uint64
}

func newAccount(conn *Connection, id string) *Account {
	return &Account{
		conn:   conn,
		id:     id,
		logger: conn.logger.With(slog.String("account", id)),
		nonces: make(map[string]uint64),
	}
}

func (a *Account) ID() string { return a.id }

// Connection returns the connection the account was created from.
func (a *Account) Connection() *Connection { return a.conn }

// State returns the on-chain account record.
func (a *Account) State(ctx context.Context) (*AccountView, error) {
	return a.conn.rpc.ViewAccount(ctx, a.id)
}

// Balance returns the liquid balance.
func (a *Account) Balance(ctx context.Context) (Amount, error) {
	state, err := a.State(ctx)
	if err != nil {
		return Amount{}, err
	}
	return state.Amount, nil
}

// AccessKey returns the stored access key for pk.
func (a *Account) AccessKey(ctx context.Context, pk PublicKey) (*AccessKeyView, error) {
	return a.conn.rpc.ViewAccessKey(ctx, a.id, pk)
}

// FunctionCallRequest describes one change call. Args is JSON encoded unless
// it is already a []byte; zero Gas uses the network ceiling.
type FunctionCallRequest struct {
	ContractID string
	Method     string
	Args       any
	Gas        uint64
	Deposit    Amount
}

// functionCallAction builds the FunctionCall action for req.
func (a *Account) functionCallAction(req FunctionCallRequest) (Action, error) {
	args, err := encodeArgs(req.Args)
	if err != nil {
		return Action{}, err
	}
	gas := req.Gas
	if gas == 0 {
		gas = a.conn.gas
	}
	return NewFunctionCallAction(req.Method, args, gas, req.Deposit), nil
}

// FunctionCallActions converts requests to actions for batching them with
// SignAndSendTransaction.
func (a *Account) FunctionCallActions(reqs ...FunctionCallRequest) ([]Action, error) {
	actions := make([]Action, 0, len(reqs))
	for _, req := range reqs {
		action, err := a.functionCallAction(req)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// FunctionCall signs and sends a single function call and waits for the
// outcome. The outcome is returned alongside a failure so logs stay visible.
func (a *Account) FunctionCall(ctx context.Context, req FunctionCallRequest) (*FinalExecutionOutcome, error) {
	action, err := a.functionCallAction(req)
	if err != nil {
		return nil, err
	}
	return a.SignAndSendTransaction(ctx, req.ContractID, action)
}

// ViewFunction runs a read-only method and decodes its JSON result into out.
func (a *Account) ViewFunction(ctx context.Context, contractID, method string, args, out any) error {
	return a.conn.ViewFunction(ctx, contractID, method, args, out)
}

// CreateAccount creates newID funded with amount and controlled by pk.
func (a *Account) CreateAccount(ctx context.Context, newID string, pk PublicKey, amount Amount) (*FinalExecutionOutcome, error) {
	return a.SignAndSendTransaction(ctx, newID,
		NewCreateAccountAction(),
		NewTransferAction(amount),
		NewAddKeyAction(pk, nil),
	)
}

// AddKey adds a key to the account; a nil permission grants full access.
func (a *Account) AddKey(ctx context.Context, pk PublicKey, perm *FunctionCallPermission) (*FinalExecutionOutcome, error) {
	return a.SignAndSendTransaction(ctx, a.id, NewAddKeyAction(pk, perm))
}

func (a *Account) DeleteKey(ctx context.Context, pk PublicKey) (*FinalExecutionOutcome, error) {
	return a.SignAndSendTransaction(ctx, a.id, NewDeleteKeyAction(pk))
}

func (a *Account) DeployContract(ctx context.Context, code []byte) (*FinalExecutionOutcome, error) {
	return a.SignAndSendTransaction(ctx, a.id, NewDeployContractAction(code))
}

func (a *Account) SendMoney(ctx context.Context, receiverID string, amount Amount) (*FinalExecutionOutcome, error) {
	return a.SignAndSendTransaction(ctx, receiverID, NewTransferAction(amount))
}

// DeleteAccount removes the account and sends the remaining balance to
// beneficiaryID.
func (a *Account) DeleteAccount(ctx context.Context, beneficiaryID string) (*FinalExecutionOutcome, error) {
	return a.SignAndSendTransaction(ctx, a.id, NewDeleteAccountAction(beneficiaryID))
}

// SignAndSendTransaction signs all actions into one transaction and waits
// for it to settle. An InvalidNonce rejection refreshes the nonce from the
// chain and is retried once.
func (a *Account) SignAndSendTransaction(ctx context.Context, receiverID string, actions ...Action) (*FinalExecutionOutcome, error) {
	if len(actions) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "transaction needs at least one action")
	}
	kp, err := a.conn.keys.GetKey(a.conn.cfg.NetworkID, a.id)
	if err != nil {
		return nil, err
	}

	outcome, err := a.send(ctx, kp, receiverID, actions)
	if te, ok := AsTxError(err); ok && te.Kind == "InvalidNonce" {
		a.forgetNonce(kp.PublicKey())
		a.logger.Info("nonce race, retrying with fresh nonce", slog.String("receiver", receiverID))
		outcome, err = a.send(ctx, kp, receiverID, actions)
	}
	return outcome, err
}

func (a *Account) send(ctx context.Context, kp *KeyPair, receiverID string, actions []Action) (*FinalExecutionOutcome, error) {
	nonce, err := a.nextNonce(ctx, kp.PublicKey())
	if err != nil {
		return nil, err
	}
	block, err := a.conn.rpc.Block(ctx, FinalityFinal)
	if err != nil {
		return nil, err
	}
	blockHash, err := ParseHash(block.Header.Hash)
	if err != nil {
		return nil, err
	}

	signed, err := SignTransaction(Transaction{
		SignerID:   a.id,
		PublicKey:  kp.PublicKey(),
		Nonce:      nonce,
		ReceiverID: receiverID,
		BlockHash:  blockHash,
		Actions:    actions,
	}, kp)
	if err != nil {
		return nil, err
	}
	hash, err := signed.HashString()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outcome, err := a.conn.rpc.BroadcastTxCommit(ctx, signed)
	if err == nil {
		err = outcome.Err()
	}
	class := Classify(err)
	metrics.ObserveTransaction(string(class))
	a.journal(hash, receiverID, actions, class, err, time.Since(start))
	a.conn.publish(OutcomeEvent{
		Network:    a.conn.cfg.NetworkID,
		SignerID:   a.id,
		ReceiverID: receiverID,
		Hash:       hash,
		Outcome:    class,
		Err:        err,
		At:         time.Now().UTC(),
	})
	return outcome, err
}

func (a *Account) journal(hash, receiverID string, actions []Action, class Outcome, err error, elapsed time.Duration) {
	kinds := make([]string, len(actions))
	for i, action := range actions {
		kinds[i] = action.Kind()
		if action.Enum == ActionFunctionCall {
			kinds[i] += ":" + action.FunctionCall.MethodName
		}
	}
	attrs := []any{
		slog.String("network", a.conn.cfg.NetworkID),
		slog.String("signer", a.id),
		slog.String("receiver", receiverID),
		slog.String("hash", hash),
		slog.Any("actions", kinds),
		slog.String("outcome", string(class)),
		slog.Duration("elapsed", elapsed),
	}
	if url := a.conn.cfg.TransactionURL(hash); url != "" {
		attrs = append(attrs, slog.String("explorer", url))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.Audit().Info("transaction", attrs...)
}

func (a *Account) nextNonce(ctx context.Context, pk PublicKey) (uint64, error) {
	key := pk.String()
	a.mu.Lock()
	if last, ok := a.nonces[key]; ok {
		a.nonces[key] = last + 1
		a.mu.Unlock()
		return last + 1, nil
	}
	a.mu.Unlock()

	view, err := a.AccessKey(ctx, pk)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	next := view.Nonce + 1
	if last, ok := a.nonces[key]; ok && last >= next {
		next = last + 1
	}
	a.nonces[key] = next
	return next, nil
}

func (a *Account) forgetNonce(pk PublicKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.nonces, pk.String())
}

func encodeArgs(args any) ([]byte, error) {
	switch v := args.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("encode args %T", args))
		}
		return raw, nil
	}
}
