package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"

	"NFTMarket-Harness/internal/web3/near"
)

const (
	// MaxPrepaidGas bounds the gas attached to one transaction.
	MaxPrepaidGas uint64 = 300_000_000_000_000
	// GasPrice is the yocto cost of one gas unit.
	GasPrice uint64 = 100_000_000

	actionGas      uint64 = 500_000_000_000
	functionGas    uint64 = 5_000_000_000_000
	promiseGas     uint64 = 30_000_000_000_000
	maxReceipts           = 1024
	systemAccount         = "system"
	nonceBlockSpan        = 1_000_000
)

// invalidTxError rejects a transaction before it is applied. Payload is the
// InvalidTxError variant as the node reports it.
type invalidTxError struct {
	payload json.RawMessage
}

func (e *invalidTxError) Error() string { return "invalid transaction: " + string(e.payload) }

func invalidTx(kind string, fields any) *invalidTxError {
	return &invalidTxError{payload: mustJSON(variant(kind, fields))}
}

func variant(kind string, payload any) any {
	if payload == nil {
		return kind
	}
	return map[string]any{kind: payload}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("sandbox: marshal %T: %v", v, err))
	}
	return raw
}

func actionError(index int, kind string, payload any) json.RawMessage {
	return mustJSON(map[string]any{"ActionError": map[string]any{"index": index, "kind": variant(kind, payload)}})
}

func functionCallError(index int, payload any) json.RawMessage {
	return actionError(index, "FunctionCallError", payload)
}

// receipt is one unit of execution on the receiver account.
type receipt struct {
	id          string
	predecessor string
	receiver    string
	signer      string
	actions     []near.Action
	waitFor     []string
}

type resultKind int

const (
	resultValue resultKind = iota
	resultFailure
	resultForward
)

type receiptResult struct {
	kind    resultKind
	value   []byte
	failure json.RawMessage
	forward string
}

// execution applies the receipts spawned by one transaction in order.
type execution struct {
	node     *Node
	block    block
	pending  []*receipt
	results  map[string]*receiptResult
	outcomes []near.ExecutionOutcomeView
}

// broadcast validates st, applies it and stores the final outcome. digest
// is sha256 over the transaction bytes as received. A transaction that was
// already applied returns its stored outcome.
func (n *Node) broadcast(st near.SignedTransaction, digest [32]byte) (*near.FinalExecutionOutcome, error) {
	hash := base58.Encode(digest[:])

	n.mu.Lock()
	defer n.mu.Unlock()
	if out, ok := n.outcomes[hash]; ok {
		return out, nil
	}
	tx := st.Transaction
	if !tx.PublicKey.Verify(digest[:], st.Signature) {
		return nil, invalidTx("InvalidSignature", nil)
	}
	cost, txGas, err := n.validate(tx)
	if err != nil {
		n.logger.Debug("transaction rejected", slog.String("hash", hash), slog.Any("error", err))
		return nil, err
	}

	signer := n.accounts[tx.SignerID]
	key := signer.keys[tx.PublicKey]
	key.nonce = tx.Nonce
	signer.balance, _ = signer.balance.Sub(cost)
	if !key.permission.IsFullAccess() && key.permission.FunctionCall.Allowance != nil {
		left, _ := near.AmountFromU128(*key.permission.FunctionCall.Allowance).Sub(cost)
		allowance := left.U128()
		key.permission.FunctionCall.Allowance = &allowance
	}

	exec := &execution{node: n, block: n.seal(hash), results: make(map[string]*receiptResult)}
	root := &receipt{
		id:          n.nextReceiptID(hash),
		predecessor: tx.SignerID,
		receiver:    tx.ReceiverID,
		signer:      tx.SignerID,
		actions:     tx.Actions,
	}
	exec.pending = append(exec.pending, root)
	exec.run()

	outcome := &near.FinalExecutionOutcome{
		Status:      exec.finalStatus(root.id),
		Transaction: transactionView(st, hash),
		TransactionOutcome: near.ExecutionOutcomeView{
			ID:        hash,
			BlockHash: exec.block.hash,
			Outcome: near.ExecutionOutcome{
				Logs:        []string{},
				ReceiptIDs:  []string{root.id},
				GasBurnt:    txGas,
				TokensBurnt: gasCost(txGas),
				ExecutorID:  tx.SignerID,
				Status:      near.ExecutionStatus{SuccessReceiptID: root.id},
			},
		},
		ReceiptsOutcome: exec.outcomes,
	}
	n.outcomes[hash] = outcome
	n.logger.Debug("transaction applied",
		slog.String("hash", hash),
		slog.String("signer", tx.SignerID),
		slog.String("receiver", tx.ReceiverID),
		slog.Uint64("height", exec.block.height),
		slog.Bool("failed", outcome.Status.IsFailure()))
	return outcome, nil
}

func gasCost(gas uint64) near.Amount {
	return near.NewAmount(gas).MulDiv(GasPrice, 1)
}

// validate checks tx against the ledger and returns what the signer is
// charged up front.
func (n *Node) validate(tx near.Transaction) (near.Amount, uint64, error) {
	signer, ok := n.accounts[tx.SignerID]
	if !ok {
		return near.Amount{}, 0, invalidTx("SignerDoesNotExist", map[string]any{"signer_id": tx.SignerID})
	}
	key, ok := signer.keys[tx.PublicKey]
	if !ok {
		return near.Amount{}, 0, invalidTx("InvalidAccessKeyError", variant("AccessKeyNotFound", map[string]any{
			"account_id": tx.SignerID,
			"public_key": tx.PublicKey.String(),
		}))
	}
	if tx.Nonce <= key.nonce {
		return near.Amount{}, 0, invalidTx("InvalidNonce", map[string]any{"tx_nonce": tx.Nonce, "ak_nonce": key.nonce})
	}
	if _, ok := n.known[base58.Encode(tx.BlockHash[:])]; !ok {
		return near.Amount{}, 0, invalidTx("Expired", nil)
	}

	var (
		deposits near.Amount
		prepaid  uint64
		burnt    = actionGas
	)
	for _, action := range tx.Actions {
		burnt += actionGas
		switch action.Enum {
		case near.ActionFunctionCall:
			prepaid += action.FunctionCall.Gas
			burnt += functionGas
			deposits = deposits.Add(near.AmountFromU128(action.FunctionCall.Deposit))
		case near.ActionTransfer:
			deposits = deposits.Add(near.AmountFromU128(action.Transfer.Deposit))
		}
	}
	if prepaid > MaxPrepaidGas {
		return near.Amount{}, 0, invalidTx("ActionsValidation", variant("TotalPrepaidGasExceeded", map[string]any{
			"total_prepaid_gas": prepaid,
			"limit":             MaxPrepaidGas,
		}))
	}
	fee := gasCost(burnt)
	cost := deposits.Add(fee)

	if !key.permission.IsFullAccess() {
		if err := checkFunctionCallKey(tx, key, fee); err != nil {
			return near.Amount{}, 0, err
		}
	}
	if signer.balance.Cmp(cost) < 0 {
		return near.Amount{}, 0, invalidTx("NotEnoughBalance", map[string]any{
			"signer_id": tx.SignerID,
			"balance":   signer.balance.String(),
			"cost":      cost.String(),
		})
	}
	return cost, actionGas, nil
}

func checkFunctionCallKey(tx near.Transaction, key *accessKey, fee near.Amount) error {
	if len(tx.Actions) != 1 || tx.Actions[0].Enum != near.ActionFunctionCall {
		return invalidTx("InvalidAccessKeyError", "RequiresFullAccess")
	}
	call := tx.Actions[0].FunctionCall
	if !near.AmountFromU128(call.Deposit).IsZero() {
		return invalidTx("InvalidAccessKeyError", "DepositWithFunctionCall")
	}
	receiverOK, methodOK := key.allows(tx.ReceiverID, call.MethodName)
	if !receiverOK {
		return invalidTx("InvalidAccessKeyError", variant("ReceiverMismatch", map[string]any{
			"tx_receiver": tx.ReceiverID,
			"ak_receiver": key.permission.FunctionCall.ReceiverID,
		}))
	}
	if !methodOK {
		return invalidTx("InvalidAccessKeyError", variant("MethodNameMismatch", map[string]any{"method_name": call.MethodName}))
	}
	if allowance := key.permission.FunctionCall.Allowance; allowance != nil && near.AmountFromU128(*allowance).Cmp(fee) < 0 {
		return invalidTx("InvalidAccessKeyError", variant("NotEnoughAllowance", map[string]any{
			"account_id": tx.SignerID,
			"public_key": tx.PublicKey.String(),
			"allowance":  near.AmountFromU128(*allowance).String(),
			"cost":       fee.String(),
		}))
	}
	return nil
}

// run drains the receipt queue. A receipt runs once every receipt it waits
// on has a final result; otherwise the queue order is kept.
func (e *execution) run() {
	executed := 0
	for len(e.pending) > 0 {
		progressed := false
		for i, r := range e.pending {
			inputs, ready := e.inputs(r)
			if !ready {
				continue
			}
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			e.execute(r, inputs)
			progressed = true
			break
		}
		executed++
		if !progressed || executed > maxReceipts {
			e.node.logger.Error("receipt queue stalled", slog.Int("pending", len(e.pending)), slog.Int("executed", executed))
			return
		}
	}
}

// resolve follows forwarded results to the final one.
func (e *execution) resolve(id string) (*receiptResult, bool) {
	for hops := 0; hops < maxReceipts; hops++ {
		res, ok := e.results[id]
		if !ok {
			return nil, false
		}
		if res.kind != resultForward {
			return res, true
		}
		id = res.forward
	}
	return nil, false
}

func (e *execution) inputs(r *receipt) ([]promiseResult, bool) {
	inputs := make([]promiseResult, 0, len(r.waitFor))
	for _, dep := range r.waitFor {
		res, ok := e.resolve(dep)
		if !ok {
			return nil, false
		}
		inputs = append(inputs, promiseResult{ok: res.kind == resultValue, value: res.value})
	}
	return inputs, true
}

func (e *execution) finalStatus(id string) near.ExecutionStatus {
	res, ok := e.resolve(id)
	if !ok {
		return near.ExecutionStatus{Pending: "Started"}
	}
	return statusOf(res)
}

func statusOf(res *receiptResult) near.ExecutionStatus {
	switch res.kind {
	case resultFailure:
		return near.ExecutionStatus{Failure: res.failure}
	case resultForward:
		return near.ExecutionStatus{SuccessReceiptID: res.forward}
	default:
		value := base64.StdEncoding.EncodeToString(res.value)
		return near.ExecutionStatus{SuccessValue: &value}
	}
}

// applied is the effect of a receipt that succeeded.
type applied struct {
	work     *accountRecord
	deleted  bool
	value    []byte
	forward  *promise
	promises []*promise
}

func (e *execution) execute(r *receipt, inputs []promiseResult) {
	n := e.node
	var (
		logs    []string
		gas     = actionGas * uint64(len(r.actions))
		spawned []string
		result  *receiptResult
	)
	eff, failure := e.apply(r, inputs, &logs, &gas)
	if failure != nil {
		result = &receiptResult{kind: resultFailure, failure: failure}
		if refund := attachedDeposits(r.actions); !refund.IsZero() && r.predecessor != systemAccount {
			spawned = append(spawned, e.enqueue(&promise{receiver: r.predecessor, deposit: refund}, systemAccount, r.signer, nil))
		}
	} else {
		if eff.deleted {
			delete(n.accounts, r.receiver)
		} else {
			n.accounts[r.receiver] = eff.work
		}
		lastOf := make(map[*promise]string, len(eff.promises))
		for _, p := range eff.promises {
			prev := ""
			for cur := p; cur != nil; cur = cur.then {
				var deps []string
				if prev != "" {
					deps = []string{prev}
				}
				prev = e.enqueue(cur, r.receiver, r.signer, deps)
				spawned = append(spawned, prev)
			}
			lastOf[p] = prev
		}
		result = &receiptResult{kind: resultValue, value: eff.value}
		if eff.forward != nil {
			result = &receiptResult{kind: resultForward, forward: lastOf[eff.forward]}
		}
	}
	e.results[r.id] = result
	if logs == nil {
		logs = []string{}
	}
	if spawned == nil {
		spawned = []string{}
	}
	e.outcomes = append(e.outcomes, near.ExecutionOutcomeView{
		ID:        r.id,
		BlockHash: e.block.hash,
		Outcome: near.ExecutionOutcome{
			Logs:        logs,
			ReceiptIDs:  spawned,
			GasBurnt:    gas,
			TokensBurnt: gasCost(gas),
			ExecutorID:  r.receiver,
			Status:      statusOf(result),
		},
	})
}

// enqueue turns a promise into a pending receipt.
func (e *execution) enqueue(p *promise, predecessor, signer string, waitFor []string) string {
	action := near.NewTransferAction(p.deposit)
	if p.method != "" {
		gas := p.gas
		if gas == 0 {
			gas = promiseGas
		}
		action = near.NewFunctionCallAction(p.method, p.args, gas, p.deposit)
	}
	r := &receipt{
		id:          e.node.nextReceiptID(e.block.hash + predecessor + p.receiver),
		predecessor: predecessor,
		receiver:    p.receiver,
		signer:      signer,
		actions:     []near.Action{action},
		waitFor:     waitFor,
	}
	e.pending = append(e.pending, r)
	return r.id
}

func attachedDeposits(actions []near.Action) near.Amount {
	var total near.Amount
	for _, a := range actions {
		switch a.Enum {
		case near.ActionFunctionCall:
			total = total.Add(near.AmountFromU128(a.FunctionCall.Deposit))
		case near.ActionTransfer:
			total = total.Add(near.AmountFromU128(a.Transfer.Deposit))
		}
	}
	return total
}

// apply runs every action of r on a copy of the receiver account. Nothing
// is written back unless all actions succeed.
func (e *execution) apply(r *receipt, inputs []promiseResult, logs *[]string, gas *uint64) (*applied, json.RawMessage) {
	eff := &applied{}
	if rec, ok := e.node.accounts[r.receiver]; ok {
		eff.work = rec.clone()
	}
	created := false
	for i, action := range r.actions {
		if eff.deleted {
			return nil, actionError(i, "AccountDoesNotExist", map[string]any{"account_id": r.receiver})
		}
		if eff.work == nil && action.Enum != near.ActionCreateAccount {
			return nil, actionError(i, "AccountDoesNotExist", map[string]any{"account_id": r.receiver})
		}
		restricted := action.Enum != near.ActionCreateAccount && action.Enum != near.ActionTransfer && action.Enum != near.ActionFunctionCall
		if restricted && !created && r.predecessor != r.receiver {
			return nil, actionError(i, "ActorNoPermission", map[string]any{"account_id": r.receiver, "actor_id": r.predecessor})
		}

		switch action.Enum {
		case near.ActionCreateAccount:
			if eff.work != nil {
				return nil, actionError(i, "AccountAlreadyExists", map[string]any{"account_id": r.receiver})
			}
			if !isSubAccount(r.receiver, r.predecessor) {
				return nil, actionError(i, "CreateAccountNotAllowed", map[string]any{"account_id": r.receiver, "predecessor_id": r.predecessor})
			}
			eff.work = newAccountRecord()
			created = true

		case near.ActionDeployContract:
			eff.work.codeHash = CodeHash(action.DeployContract.Code)

		case near.ActionFunctionCall:
			*gas += functionGas
			last := i == len(r.actions)-1
			if failure := e.functionCall(r, i, eff, action.FunctionCall, inputs, logs, last); failure != nil {
				return nil, failure
			}

		case near.ActionTransfer:
			eff.work.balance = eff.work.balance.Add(near.AmountFromU128(action.Transfer.Deposit))

		case near.ActionStake:
			return nil, actionError(i, "TriesToStake", map[string]any{
				"account_id": r.receiver,
				"stake":      near.AmountFromU128(action.Stake.Stake).String(),
			})

		case near.ActionAddKey:
			pk := action.AddKey.PublicKey
			if _, exists := eff.work.keys[pk]; exists {
				return nil, actionError(i, "AddKeyAlreadyExists", map[string]any{"account_id": r.receiver, "public_key": pk.String()})
			}
			eff.work.keys[pk] = (&accessKey{
				nonce:      (e.block.height - 1) * nonceBlockSpan,
				permission: action.AddKey.AccessKey.Permission,
			}).clone()

		case near.ActionDeleteKey:
			pk := action.DeleteKey.PublicKey
			if _, exists := eff.work.keys[pk]; !exists {
				return nil, actionError(i, "DeleteKeyDoesNotExist", map[string]any{"account_id": r.receiver, "public_key": pk.String()})
			}
			delete(eff.work.keys, pk)

		case near.ActionDeleteAccount:
			beneficiary := action.DeleteAccount.BeneficiaryID
			if !eff.work.balance.IsZero() {
				eff.promises = append(eff.promises, &promise{receiver: beneficiary, deposit: eff.work.balance})
			}
			eff.deleted = true

		default:
			return nil, actionError(i, "UnsupportedAction", map[string]any{"action": action.Kind()})
		}
	}
	return eff, nil
}

func isSubAccount(id, parent string) bool {
	return strings.HasSuffix(id, "."+parent) && !strings.Contains(strings.TrimSuffix(id, "."+parent), ".")
}

func (e *execution) functionCall(r *receipt, index int, eff *applied, fc near.FunctionCall, inputs []promiseResult, logs *[]string, last bool) (failure json.RawMessage) {
	deposit := near.AmountFromU128(fc.Deposit)
	eff.work.balance = eff.work.balance.Add(deposit)
	prog, ok := e.node.programs[eff.work.codeHash]
	if !ok {
		return functionCallError(index, variant("CompilationError", variant("CodeDoesNotExist", map[string]any{"account_id": r.receiver})))
	}
	ctx := &callContext{
		current:     r.receiver,
		predecessor: r.predecessor,
		signer:      r.signer,
		deposit:     deposit,
		gas:         fc.Gas,
		timestamp:   e.block.timestamp,
		height:      e.block.height,
		balance:     eff.work.balance,
		results:     inputs,
	}

	var (
		state []byte
		ret   any
	)
	if failure := guard(e.node.logger, fc.MethodName, func() {
		state, ret = prog.call(ctx, eff.work.state, fc.MethodName, fc.Args)
	}); failure != nil {
		return functionCallError(index, failure)
	}

	eff.work.state = state
	eff.work.balance, _ = eff.work.balance.Sub(ctx.spent)
	*logs = append(*logs, ctx.logs...)
	eff.promises = append(eff.promises, ctx.promises...)
	if !last {
		return nil
	}
	switch v := ret.(type) {
	case nil:
		eff.value = nil
	case *promise:
		if !scheduled(ctx.promises, v) {
			eff.promises = append(eff.promises, v)
		}
		eff.forward = v
	default:
		eff.value = mustJSON(v)
	}
	return nil
}

func scheduled(list []*promise, p *promise) bool {
	for _, q := range list {
		if q == p {
			return true
		}
	}
	return false
}

// guard runs fn and converts a contract abort into the FunctionCallError
// payload.
func guard(l *slog.Logger, method string, fn func()) (failure any) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch v := r.(type) {
		case contractPanic:
			failure = map[string]any{"ExecutionError": "Smart contract panicked: " + string(v)}
		case methodNotFound:
			failure = map[string]any{"MethodResolveError": "MethodNotFound"}
		default:
			l.Error("contract trapped", slog.String("method", method), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			failure = map[string]any{"WasmTrap": "Unreachable"}
		}
	}()
	fn()
	return nil
}

// view runs a read-only method against the committed state.
func (n *Node) view(contractID, method string, args []byte) (*near.CallResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	head := n.head()
	rec, ok := n.accounts[contractID]
	if !ok {
		return nil, fmt.Errorf("account %s does not exist while viewing", contractID)
	}
	prog, ok := n.programs[rec.codeHash]
	if !ok {
		return nil, fmt.Errorf("wasm execution failed with error: CompilationError(CodeDoesNotExist { account_id: %s })", strconv.Quote(contractID))
	}
	ctx := &callContext{
		current:   contractID,
		timestamp: head.timestamp,
		height:    head.height,
		balance:   rec.balance,
		view:      true,
	}
	var ret any
	failure := guard(n.logger, method, func() {
		ret = prog.view(ctx, rec.state, method, args)
	})
	if failure != nil {
		return nil, viewError(failure)
	}
	logs := ctx.logs
	if logs == nil {
		logs = []string{}
	}
	return &near.CallResult{
		Result:      near.ByteArray(mustJSON(ret)),
		Logs:        logs,
		BlockHeight: head.height,
		BlockHash:   head.hash,
	}, nil
}

func viewError(failure any) error {
	payload, _ := failure.(map[string]any)
	switch {
	case payload["ExecutionError"] != nil:
		msg := strings.TrimPrefix(payload["ExecutionError"].(string), "Smart contract panicked: ")
		return fmt.Errorf("wasm execution failed with error: FunctionCallError(HostError(GuestPanic { panic_msg: %s }))", strconv.Quote(msg))
	case payload["MethodResolveError"] != nil:
		return fmt.Errorf("wasm execution failed with error: FunctionCallError(MethodResolveError(MethodNotFound))")
	default:
		return fmt.Errorf("wasm execution failed with error: FunctionCallError(WasmTrap(Unreachable))")
	}
}

func transactionView(st near.SignedTransaction, hash string) near.TransactionView {
	tx := st.Transaction
	actions := make([]any, len(tx.Actions))
	for i, a := range tx.Actions {
		actions[i] = actionView(a)
	}
	return near.TransactionView{
		SignerID:   tx.SignerID,
		PublicKey:  tx.PublicKey.String(),
		Nonce:      tx.Nonce,
		ReceiverID: tx.ReceiverID,
		Hash:       hash,
		Signature:  st.Signature.String(),
		Actions:    actions,
	}
}

func actionView(a near.Action) any {
	switch a.Enum {
	case near.ActionCreateAccount:
		return "CreateAccount"
	case near.ActionDeployContract:
		return variant("DeployContract", map[string]any{"code": CodeHash(a.DeployContract.Code)})
	case near.ActionFunctionCall:
		fc := a.FunctionCall
		return variant("FunctionCall", map[string]any{
			"method_name": fc.MethodName,
			"args":        base64.StdEncoding.EncodeToString(fc.Args),
			"gas":         fc.Gas,
			"deposit":     near.AmountFromU128(fc.Deposit).String(),
		})
	case near.ActionTransfer:
		return variant("Transfer", map[string]any{"deposit": near.AmountFromU128(a.Transfer.Deposit).String()})
	case near.ActionAddKey:
		return variant("AddKey", map[string]any{
			"public_key": a.AddKey.PublicKey.String(),
			"access_key": map[string]any{
				"nonce":      a.AddKey.AccessKey.Nonce,
				"permission": permissionView(a.AddKey.AccessKey.Permission),
			},
		})
	case near.ActionDeleteKey:
		return variant("DeleteKey", map[string]any{"public_key": a.DeleteKey.PublicKey.String()})
	case near.ActionDeleteAccount:
		return variant("DeleteAccount", map[string]any{"beneficiary_id": a.DeleteAccount.BeneficiaryID})
	default:
		return a.Kind()
	}
}
