package near

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/near/borsh-go"

	xerrors "NFTMarket-Harness/internal/errors"
)

// Action kinds in borsh enum order.
const (
	ActionCreateAccount borsh.Enum = iota
	ActionDeployContract
	ActionFunctionCall
	ActionTransfer
	ActionStake
	ActionAddKey
	ActionDeleteKey
	ActionDeleteAccount
)

var actionNames = [...]string{
	"CreateAccount", "DeployContract", "FunctionCall", "Transfer",
	"Stake", "AddKey", "DeleteKey", "DeleteAccount",
}

type CreateAccount struct{}

type DeployContract struct {
	Code []byte
}

type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    Balance
}

type Transfer struct {
	Deposit Balance
}

type Stake struct {
	Stake     Balance
	PublicKey PublicKey
}

type AddKey struct {
	PublicKey PublicKey
	AccessKey AccessKey
}

type DeleteKey struct {
	PublicKey PublicKey
}

type DeleteAccount struct {
	BeneficiaryID string
}

// Action is one step of a transaction. Only the field selected by Enum is
// encoded.
type Action struct {
	Enum           borsh.Enum `borsh_enum:"true"`
	CreateAccount  CreateAccount
	DeployContract DeployContract
	FunctionCall   FunctionCall
	Transfer       Transfer
	Stake          Stake
	AddKey         AddKey
	DeleteKey      DeleteKey
	DeleteAccount  DeleteAccount
}

// Kind names the action variant.
func (a Action) Kind() string {
	if int(a.Enum) < len(actionNames) {
		return actionNames[a.Enum]
	}
	return fmt.Sprintf("Action(%d)", a.Enum)
}

// AccessKey is the stored key record: its nonce and what it may do.
type AccessKey struct {
	Nonce      uint64
	Permission AccessKeyPermission
}

const (
	PermissionFunctionCall borsh.Enum = iota
	PermissionFullAccess
)

type AccessKeyPermission struct {
	Enum         borsh.Enum `borsh_enum:"true"`
	FunctionCall FunctionCallPermission
	FullAccess   struct{}
}

// FunctionCallPermission limits a key to calling MethodNames on ReceiverID.
// An empty method list allows every method; a nil allowance is unlimited.
type FunctionCallPermission struct {
	Allowance   *Balance
	ReceiverID  string
	MethodNames []string
}

// IsFullAccess reports whether the key may sign any action.
func (p AccessKeyPermission) IsFullAccess() bool { return p.Enum == PermissionFullAccess }

func NewCreateAccountAction() Action {
	return Action{Enum: ActionCreateAccount}
}

func NewDeployContractAction(code []byte) Action {
	return Action{Enum: ActionDeployContract, DeployContract: DeployContract{Code: code}}
}

func NewFunctionCallAction(method string, args []byte, gas uint64, deposit Amount) Action {
	if args == nil {
		args = []byte{}
	}
	return Action{Enum: ActionFunctionCall, FunctionCall: FunctionCall{
		MethodName: method,
		Args:       args,
		Gas:        gas,
		Deposit:    deposit.U128(),
	}}
}

func NewTransferAction(deposit Amount) Action {
	return Action{Enum: ActionTransfer, Transfer: Transfer{Deposit: deposit.U128()}}
}

// NewAddKeyAction grants full access when perm is nil.
func NewAddKeyAction(pk PublicKey, perm *FunctionCallPermission) Action {
	access := AccessKey{Permission: AccessKeyPermission{Enum: PermissionFullAccess}}
	if perm != nil {
		p := *perm
		if p.MethodNames == nil {
			p.MethodNames = []string{}
		}
		access.Permission = AccessKeyPermission{Enum: PermissionFunctionCall, FunctionCall: p}
	}
	return Action{Enum: ActionAddKey, AddKey: AddKey{PublicKey: pk, AccessKey: access}}
}

func NewDeleteKeyAction(pk PublicKey) Action {
	return Action{Enum: ActionDeleteKey, DeleteKey: DeleteKey{PublicKey: pk}}
}

func NewDeleteAccountAction(beneficiaryID string) Action {
	return Action{Enum: ActionDeleteAccount, DeleteAccount: DeleteAccount{BeneficiaryID: beneficiaryID}}
}

// Transaction is the unsigned borsh payload.
type Transaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

// Hash is sha256 over the borsh encoding; it is both the signed message and
// the transaction id.
func (tx Transaction) Hash() ([32]byte, error) {
	encoded, err := borsh.Serialize(tx)
	if err != nil {
		return [32]byte{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "borsh encode transaction")
	}
	return sha256.Sum256(encoded), nil
}

// SignedTransaction is what broadcast_tx_commit accepts.
type SignedTransaction struct {
	Transaction Transaction
	Signature   Signature
}

// SignTransaction hashes and signs tx.
func SignTransaction(tx Transaction, kp *KeyPair) (SignedTransaction, error) {
	hash, err := tx.Hash()
	if err != nil {
		return SignedTransaction{}, err
	}
	return SignedTransaction{Transaction: tx, Signature: kp.Sign(hash[:])}, nil
}

// HashString returns the base58 transaction id.
func (st SignedTransaction) HashString() (string, error) {
	hash, err := st.Transaction.Hash()
	if err != nil {
		return "", err
	}
	return base58.Encode(hash[:]), nil
}

// Encode returns the base64 borsh form sent over RPC.
func (st SignedTransaction) Encode() (string, error) {
	encoded, err := borsh.Serialize(st)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "borsh encode signed transaction")
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// DecodeSignedTransaction reverses Encode.
func DecodeSignedTransaction(encoded string) (SignedTransaction, error) {
	st, _, err := DecodeSignedTransactionDigest(encoded)
	return st, err
}

// DecodeSignedTransactionDigest decodes like DecodeSignedTransaction and also
// returns sha256 over the transaction bytes exactly as received.
func DecodeSignedTransactionDigest(encoded string) (SignedTransaction, [32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return SignedTransaction{}, [32]byte{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "transaction is not base64")
	}
	if len(raw) <= signatureSize {
		return SignedTransaction{}, [32]byte{}, xerrors.New(xerrors.CodeInvalidArgument, "signed transaction is truncated")
	}
	var st SignedTransaction
	if err := borsh.Deserialize(&st, raw); err != nil {
		return SignedTransaction{}, [32]byte{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "borsh decode signed transaction")
	}
	body := raw[:len(raw)-signatureSize]
	if err := restoreAbsentAllowances(&st.Transaction, body); err != nil {
		return SignedTransaction{}, [32]byte{}, err
	}
	return st, sha256.Sum256(body), nil
}

// signatureSize is the borsh size of a Signature: key type plus 64 bytes.
const signatureSize = 1 + ed25519.SignatureSize

// restoreAbsentAllowances puts back nil allowances. borsh-go decodes None as
// a pointer to zero, so a zero allowance is either None or Some(0); the
// choice that re-encodes to body wins.
func restoreAbsentAllowances(tx *Transaction, body []byte) error {
	var zeros []*FunctionCallPermission
	for i := range tx.Actions {
		a := &tx.Actions[i]
		if a.Enum != ActionAddKey || a.AddKey.AccessKey.Permission.Enum != PermissionFunctionCall {
			continue
		}
		if p := &a.AddKey.AccessKey.Permission.FunctionCall; p.Allowance != nil && *p.Allowance == (Balance{}) {
			zeros = append(zeros, p)
		}
	}
	if len(zeros) == 0 {
		return nil
	}
	if len(zeros) > 16 {
		return xerrors.New(xerrors.CodeInvalidArgument, "too many function call keys in one transaction")
	}
	for mask := 0; mask < 1<<len(zeros); mask++ {
		for i, p := range zeros {
			if mask&(1<<i) != 0 {
				p.Allowance = nil
			} else {
				p.Allowance = &Balance{}
			}
		}
		encoded, err := borsh.Serialize(*tx)
		if err == nil && bytes.Equal(encoded, body) {
			return nil
		}
	}
	return xerrors.New(xerrors.CodeInvalidArgument, "transaction has no canonical borsh encoding")
}

// ParseHash decodes a base58 block or transaction hash.
func ParseHash(raw string) ([32]byte, error) {
	var out [32]byte
	data := base58.Decode(raw)
	if len(data) != len(out) {
		return out, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("hash %q is not 32 bytes of base58", raw))
	}
	copy(out[:], data)
	return out, nil
}
