package near

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	xerrors "NFTMarket-Harness/internal/errors"
)

const (
	CodeContractRejected   xerrors.Code = "CONTRACT_REJECTED"
	CodeActionRejected     xerrors.Code = "ACTION_REJECTED"
	CodeInvalidTransaction xerrors.Code = "INVALID_TRANSACTION"
	CodeAccountNotFound    xerrors.Code = "ACCOUNT_NOT_FOUND"
	CodeAccountExists      xerrors.Code = "ACCOUNT_EXISTS"
	CodeAlreadyInitialized xerrors.Code = "ALREADY_INITIALIZED"
	CodeRPCFailure         xerrors.Code = "RPC_FAILURE"
	CodeTransportFailure   xerrors.Code = "TRANSPORT_FAILURE"
	CodeViewFailed         xerrors.Code = "VIEW_FAILED"
	CodeMethodNotAllowed   xerrors.Code = "METHOD_NOT_ALLOWED"
)

func init() {
	xerrors.Register(CodeContractRejected, xerrors.Attributes{Message: "contract rejected the call", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeActionRejected, xerrors.Attributes{Message: "action rejected", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInvalidTransaction, xerrors.Attributes{Message: "invalid transaction", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeAccountNotFound, xerrors.Attributes{Message: "account does not exist", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAccountExists, xerrors.Attributes{Message: "account already exists", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAlreadyInitialized, xerrors.Attributes{Message: "contract already initialized", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeRPCFailure, xerrors.Attributes{Message: "rpc call failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true})
	xerrors.Register(CodeTransportFailure, xerrors.Attributes{Message: "rpc transport failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true})
	xerrors.Register(CodeViewFailed, xerrors.Attributes{Message: "view call failed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeMethodNotAllowed, xerrors.Attributes{Message: "method not declared on contract handle", Severity: xerrors.SeverityInfo})
}

// TxError is a decoded execution failure. Path lists the enum variants from
// the outermost (ActionError, InvalidTxError) down to Kind.
type TxError struct {
	Path    []string
	Kind    string
	Message string
	Raw     string
}

func (e *TxError) Error() string { return e.Message }

// HasKind reports whether the failure went through the named variant.
func (e *TxError) HasKind(kind string) bool {
	for _, p := range e.Path {
		if p == kind {
			return true
		}
	}
	return false
}

// messageTemplates renders the failure kinds the scenarios look at. Fields
// are gjson paths into the variant payload.
var messageTemplates = map[string]struct {
	format string
	fields []string
}{
	"AccountAlreadyExists":     {"Can't create a new account %s, because it already exists", []string{"account_id"}},
	"AccountDoesNotExist":      {"Can't complete the action because account %s doesn't exist", []string{"account_id"}},
	"InvalidNonce":             {"Transaction nonce %s must be larger than nonce of the used access key %s", []string{"tx_nonce", "ak_nonce"}},
	"NotEnoughBalance":         {"Sender %s does not have enough balance %s for operation costing %s", []string{"signer_id", "balance", "cost"}},
	"InvalidSignature":         {"Transaction is not signed with the given public key", nil},
	"CreateAccountNotAllowed":  {"A sub-account ID %s can't be created by account %s", []string{"account_id", "predecessor_id"}},
	"ActorNoPermission":        {"Actor %s doesn't have permission to account %s to complete the action", []string{"actor_id", "account_id"}},
	"GuestPanic":               {"Smart contract panicked: %s", []string{"panic_msg"}},
	"LackBalanceForState":      {"The account %s wouldn't have enough balance to cover storage, required to have %s yoctoNEAR more", []string{"account_id", "amount"}},
	"DepositWithFunctionCall":  {"Function call keys cannot attach a deposit", nil},
	"ReceiverMismatch":         {"Wrong AccessKey used for transaction: receiver %s does not match %s", []string{"tx_receiver", "ak_receiver"}},
	"MethodNameMismatch":       {"Transaction method name %s isn't allowed by the access key", []string{"method_name"}},
	"InvalidAccessKeyError":    {"Invalid access key", nil},
	"AccessKeyNotFound":        {"Signer %s doesn't have access key with the given public key %s", []string{"account_id", "public_key"}},
	"TotalPrepaidGasExceeded":  {"Transaction prepaid gas %s exceeds the limit %s", []string{"total_prepaid_gas", "limit"}},
	"DeleteAccountWithStorage": {"Account %s can't be deleted while it holds storage", []string{"account_id"}},
}

// ParseFailure walks a Failure / TxExecutionError payload. Only CamelCase
// keys and "kind" are variant markers; lowercase keys are payload fields.
func ParseFailure(raw string) *TxError {
	te := &TxError{Raw: raw}
	node := gjson.Parse(raw)
	var leaf gjson.Result
	for node.IsObject() {
		var (
			key   string
			next  gjson.Result
			found bool
		)
		node.ForEach(func(k, v gjson.Result) bool {
			name := k.String()
			if name == "kind" || isVariant(name) {
				key, next, found = name, v, true
				return false
			}
			return true
		})
		if !found {
			break
		}
		if key != "kind" {
			te.Path = append(te.Path, key)
		}
		leaf = next
		node = next
	}
	if len(te.Path) > 0 {
		te.Kind = te.Path[len(te.Path)-1]
	}
	if leaf.Type == gjson.String && isVariant(leaf.String()) {
		te.Path = append(te.Path, leaf.String())
		te.Kind = leaf.String()
	}
	te.Message = renderFailure(te.Kind, leaf)
	return te
}

func renderFailure(kind string, payload gjson.Result) string {
	if tmpl, ok := messageTemplates[kind]; ok {
		args := make([]any, len(tmpl.fields))
		for i, field := range tmpl.fields {
			args[i] = payload.Get(field).String()
		}
		return fmt.Sprintf(tmpl.format, args...)
	}
	if payload.Type == gjson.String {
		return payload.String()
	}
	if kind == "" {
		return "transaction failed: " + payload.Raw
	}
	if payload.IsObject() && payload.Raw != "{}" {
		return kind + " " + payload.Raw
	}
	return kind
}

func isVariant(name string) bool {
	if name == "" || !unicode.IsUpper(rune(name[0])) {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Err converts the decoded failure into a coded error.
func (e *TxError) Err() error {
	code := CodeActionRejected
	var opts []xerrors.Option
	switch {
	case e.HasKind("InvalidTxError"):
		code = CodeInvalidTransaction
		if e.Kind == "InvalidNonce" {
			opts = append(opts, xerrors.WithRetryable(true))
		}
	case e.Kind == "AccountAlreadyExists":
		code = CodeAccountExists
	case e.Kind == "AccountDoesNotExist":
		code = CodeAccountNotFound
	case e.HasKind("FunctionCallError"):
		code = CodeContractRejected
		if strings.Contains(e.Message, "already been initialized") {
			code = CodeAlreadyInitialized
		}
	}
	opts = append(opts, xerrors.WithMetadata("kind", e.Kind))
	return xerrors.Wrap(code, e, "", opts...)
}

// AsTxError extracts the decoded failure from err.
func AsTxError(err error) (*TxError, bool) {
	var te *TxError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Outcome classifies a call result.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeRejected covers permanent failures reported by the chain.
	OutcomeRejected Outcome = "rejected"
	// OutcomeTransient covers transport problems, timeouts and nonce races;
	// repeating the call may succeed.
	OutcomeTransient Outcome = "transient"
	// OutcomeFaulted is a local error such as a malformed argument or a
	// view result that does not decode.
	OutcomeFaulted Outcome = "faulted"
)

var rejectionCodes = map[xerrors.Code]bool{
	CodeContractRejected:   true,
	CodeActionRejected:     true,
	CodeInvalidTransaction: true,
	CodeAccountNotFound:    true,
	CodeAccountExists:      true,
	CodeAlreadyInitialized: true,
	CodeViewFailed:         true,
	CodeMethodNotAllowed:   true,
}

// Classify maps a call error onto an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSucceeded
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransient
	}
	if xerrors.RetryableError(err) {
		return OutcomeTransient
	}
	if rejectionCodes[xerrors.CodeOf(err)] {
		return OutcomeRejected
	}
	return OutcomeFaulted
}
