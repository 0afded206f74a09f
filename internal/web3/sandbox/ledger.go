package sandbox

import (
	"crypto/sha256"
	"sort"

	"github.com/btcsuite/btcd/btcutil/base58"

	"NFTMarket-Harness/internal/web3/near"
)

// accessKey is a stored key: its nonce and permission.
type accessKey struct {
	nonce      uint64
	permission near.AccessKeyPermission
}

func (k *accessKey) clone() *accessKey {
	cp := *k
	fc := k.permission.FunctionCall
	if fc.Allowance != nil {
		allowance := *fc.Allowance
		cp.permission.FunctionCall.Allowance = &allowance
	}
	cp.permission.FunctionCall.MethodNames = append([]string(nil), fc.MethodNames...)
	return &cp
}

// allows reports whether a function-call key may call method on receiver.
func (k *accessKey) allows(receiver, method string) (receiverOK, methodOK bool) {
	fc := k.permission.FunctionCall
	if fc.ReceiverID != receiver {
		return false, false
	}
	if len(fc.MethodNames) == 0 {
		return true, true
	}
	for _, m := range fc.MethodNames {
		if m == method {
			return true, true
		}
	}
	return true, false
}

// accountRecord is the ledger entry of one account.
type accountRecord struct {
	balance  near.Amount
	locked   near.Amount
	keys     map[near.PublicKey]*accessKey
	codeHash string
	state    []byte
}

func newAccountRecord() *accountRecord {
	return &accountRecord{keys: make(map[near.PublicKey]*accessKey), codeHash: near.EmptyCodeHash}
}

func (r *accountRecord) clone() *accountRecord {
	cp := &accountRecord{
		balance:  r.balance,
		locked:   r.locked,
		keys:     make(map[near.PublicKey]*accessKey, len(r.keys)),
		codeHash: r.codeHash,
	}
	for pk, key := range r.keys {
		cp.keys[pk] = key.clone()
	}
	if r.state != nil {
		cp.state = append([]byte(nil), r.state...)
	}
	return cp
}

// storageUsage approximates the bytes an account occupies: a fixed record
// plus its keys and contract state.
func (r *accountRecord) storageUsage() uint64 {
	usage := uint64(100 + 82*len(r.keys))
	return usage + uint64(len(r.state))
}

func (r *accountRecord) view(height uint64, blockHash string) near.AccountView {
	return near.AccountView{
		Amount:       r.balance,
		Locked:       r.locked,
		CodeHash:     r.codeHash,
		StorageUsage: r.storageUsage(),
		BlockHeight:  height,
		BlockHash:    blockHash,
	}
}

// permissionView renders a permission the way view_access_key returns it.
func permissionView(p near.AccessKeyPermission) any {
	if p.IsFullAccess() {
		return "FullAccess"
	}
	fc := p.FunctionCall
	var allowance any
	if fc.Allowance != nil {
		allowance = near.AmountFromU128(*fc.Allowance).String()
	}
	methods := fc.MethodNames
	if methods == nil {
		methods = []string{}
	}
	return map[string]any{"FunctionCall": map[string]any{
		"allowance":    allowance,
		"receiver_id":  fc.ReceiverID,
		"method_names": methods,
	}}
}

// CodeHash returns the base58 sha256 of code, the form code_hash takes.
func CodeHash(code []byte) string {
	sum := sha256.Sum256(code)
	return base58.Encode(sum[:])
}

func sortedIDs(accounts map[string]*accountRecord) []string {
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
