package near

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	xerrors "NFTMarket-Harness/internal/errors"
)

const eventLogPrefix = "EVENT_JSON:"

// ExecutionStatus is the status union of a transaction or receipt outcome.
type ExecutionStatus struct {
	SuccessValue     *string
	SuccessReceiptID string
	Failure          json.RawMessage
	// Pending is set for the bare string forms (Unknown, NotStarted, Started).
	Pending string
}

func (s ExecutionStatus) IsFailure() bool { return len(s.Failure) > 0 }

func (s ExecutionStatus) MarshalJSON() ([]byte, error) {
	switch {
	case s.IsFailure():
		return json.Marshal(map[string]json.RawMessage{"Failure": s.Failure})
	case s.SuccessValue != nil:
		return json.Marshal(map[string]string{"SuccessValue": *s.SuccessValue})
	case s.SuccessReceiptID != "":
		return json.Marshal(map[string]string{"SuccessReceiptId": s.SuccessReceiptID})
	case s.Pending != "":
		return json.Marshal(s.Pending)
	default:
		return json.Marshal("Unknown")
	}
}

func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	*s = ExecutionStatus{}
	parsed := gjson.ParseBytes(data)
	if parsed.Type == gjson.String {
		s.Pending = parsed.String()
		return nil
	}
	if v := parsed.Get("SuccessValue"); v.Exists() {
		value := v.String()
		s.SuccessValue = &value
	}
	s.SuccessReceiptID = parsed.Get("SuccessReceiptId").String()
	if v := parsed.Get("Failure"); v.Exists() {
		s.Failure = json.RawMessage(v.Raw)
	}
	return nil
}

type TransactionView struct {
	SignerID   string `json:"signer_id"`
	PublicKey  string `json:"public_key"`
	Nonce      uint64 `json:"nonce"`
	ReceiverID string `json:"receiver_id"`
	Hash       string `json:"hash"`
	Signature  string `json:"signature,omitempty"`
	Actions    []any  `json:"actions,omitempty"`
}

type ExecutionOutcome struct {
	Logs        []string        `json:"logs"`
	ReceiptIDs  []string        `json:"receipt_ids"`
	GasBurnt    uint64          `json:"gas_burnt"`
	TokensBurnt Amount          `json:"tokens_burnt"`
	ExecutorID  string          `json:"executor_id"`
	Status      ExecutionStatus `json:"status"`
}

type ExecutionOutcomeView struct {
	ID        string           `json:"id"`
	BlockHash string           `json:"block_hash"`
	Outcome   ExecutionOutcome `json:"outcome"`
}

// FinalExecutionOutcome is the settled result of a transaction and every
// receipt it spawned.
type FinalExecutionOutcome struct {
	Status             ExecutionStatus        `json:"status"`
	Transaction        TransactionView        `json:"transaction"`
	TransactionOutcome ExecutionOutcomeView   `json:"transaction_outcome"`
	ReceiptsOutcome    []ExecutionOutcomeView `json:"receipts_outcome"`
}

// Hash returns the transaction id.
func (o *FinalExecutionOutcome) Hash() string {
	if o.Transaction.Hash != "" {
		return o.Transaction.Hash
	}
	return o.TransactionOutcome.ID
}

// Logs gathers the logs of the transaction and all receipts in order.
func (o *FinalExecutionOutcome) Logs() []string {
	logs := append([]string(nil), o.TransactionOutcome.Outcome.Logs...)
	for _, r := range o.ReceiptsOutcome {
		logs = append(logs, r.Outcome.Logs...)
	}
	return logs
}

// Err returns the coded failure of the transaction, nil on success.
func (o *FinalExecutionOutcome) Err() error {
	if o == nil || !o.Status.IsFailure() {
		return nil
	}
	return ParseFailure(string(o.Status.Failure)).Err()
}

// ReceiptFailures lists failed receipts. A transaction can succeed while a
// promise it scheduled failed, e.g. a cross-contract transfer that a
// callback then compensated.
func (o *FinalExecutionOutcome) ReceiptFailures() []*TxError {
	var out []*TxError
	for _, r := range o.ReceiptsOutcome {
		if r.Outcome.Status.IsFailure() {
			out = append(out, ParseFailure(string(r.Outcome.Status.Failure)))
		}
	}
	return out
}

// DecodeValue unmarshals the JSON return value of the last function call.
// It is a no-op when the call returned nothing.
func (o *FinalExecutionOutcome) DecodeValue(out any) error {
	if o.Status.SuccessValue == nil || *o.Status.SuccessValue == "" || out == nil {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(*o.Status.SuccessValue)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "return value is not base64")
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode return value")
	}
	return nil
}

// Event is a NEP-297 structured log.
type Event struct {
	Standard string          `json:"standard"`
	Version  string          `json:"version"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// Events parses every EVENT_JSON log line; malformed lines are skipped.
func (o *FinalExecutionOutcome) Events() []Event {
	var events []Event
	for _, line := range o.Logs() {
		payload, ok := strings.CutPrefix(line, eventLogPrefix)
		if !ok || !gjson.Valid(payload) {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// EventTokenIDs returns the token_ids of all events with the given name,
// for example the ids minted by nft_buy.
func (o *FinalExecutionOutcome) EventTokenIDs(name string) []string {
	var ids []string
	for _, ev := range o.Events() {
		if ev.Event != name {
			continue
		}
		gjson.GetBytes(ev.Data, "#.token_ids").ForEach(func(_, group gjson.Result) bool {
			group.ForEach(func(_, id gjson.Result) bool {
				ids = append(ids, id.String())
				return true
			})
			return true
		})
	}
	return ids
}

// FormatEvent renders an EVENT_JSON log line.
func FormatEvent(ev Event) string {
	raw, err := json.Marshal(ev)
	if err != nil {
		return ""
	}
	return eventLogPrefix + string(raw)
}
