package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"NFTMarket-Harness/internal/web3/near"
)

const serviceName = "Near"

// nearCodec maps the snake_case NEAR method names onto the exported methods
// of Service, so broadcast_tx_commit is served by Service.BroadcastTxCommit.
type nearCodec struct {
	inner *json2.Codec
}

func (c nearCodec) NewRequest(r *http.Request) rpc.CodecRequest {
	return &nearRequest{CodecRequest: c.inner.NewRequest(r)}
}

type nearRequest struct {
	rpc.CodecRequest
}

func (r *nearRequest) Method() (string, error) {
	method, err := r.CodecRequest.Method()
	if err != nil {
		return "", err
	}
	return serviceName + "." + camel(method), nil
}

func camel(method string) string {
	var b strings.Builder
	for _, part := range strings.Split(method, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

func newRPCServer(n *Node) http.Handler {
	server := rpc.NewServer()
	server.RegisterCodec(nearCodec{inner: json2.NewCodec()}, "application/json")
	if err := server.RegisterService(&Service{node: n}, serviceName); err != nil {
		panic(fmt.Sprintf("sandbox: register rpc service: %v", err))
	}
	return server
}

// Service implements the JSON-RPC methods the harness relies on.
type Service struct {
	node *Node
}

type (
	// NoArgs accepts the empty positional params of status.
	NoArgs []json.RawMessage

	BlockArgs struct {
		Finality string          `json:"finality"`
		BlockID  json.RawMessage `json:"block_id"`
	}

	QueryArgs struct {
		RequestType string `json:"request_type"`
		Finality    string `json:"finality"`
		AccountID   string `json:"account_id"`
		PublicKey   string `json:"public_key"`
		MethodName  string `json:"method_name"`
		ArgsBase64  string `json:"args_base64"`
	}

	// TxArgs holds positional params: the encoded transaction for
	// broadcast_tx_commit, or hash and sender for tx.
	TxArgs []string
)

func serverError(data any) *json2.Error {
	return &json2.Error{Code: json2.E_SERVER, Message: "Server error", Data: data}
}

func (s *Service) Status(_ *http.Request, _ *NoArgs, reply *near.StatusView) error {
	head := s.node.headBlock()
	reply.ChainID = s.node.chainID
	reply.SyncInfo = near.SyncInfo{
		LatestBlockHash:   head.hash,
		LatestBlockHeight: head.height,
		LatestBlockTime:   time.Unix(0, int64(head.timestamp)).UTC().Format(time.RFC3339Nano),
	}
	reply.Version.Version = "sandbox"
	reply.Version.Build = "go"
	return nil
}

func (s *Service) Block(_ *http.Request, args *BlockArgs, reply *near.BlockView) error {
	if len(args.BlockID) > 0 {
		return serverError("block lookup by id is not supported")
	}
	head := s.node.headBlock()
	*reply = near.BlockView{
		Author: s.node.masterID,
		Header: near.BlockHeaderView{Height: head.height, Hash: head.hash, PrevHash: head.prevHash, Timestamp: head.timestamp},
	}
	return nil
}

func (s *Service) Query(_ *http.Request, args *QueryArgs, reply *json.RawMessage) error {
	var (
		out any
		err error
	)
	switch args.RequestType {
	case "view_account":
		out, err = s.node.viewAccount(args.AccountID)
	case "view_access_key":
		out, err = s.node.viewAccessKey(args.AccountID, args.PublicKey)
	case "call_function":
		var raw []byte
		raw, err = base64.StdEncoding.DecodeString(args.ArgsBase64)
		if err != nil {
			return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "args_base64 is not valid base64"}
		}
		out, err = s.node.view(args.AccountID, args.MethodName, raw)
	default:
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: fmt.Sprintf("unsupported request_type %q", args.RequestType)}
	}
	if err != nil {
		return serverError(err.Error())
	}
	*reply = mustJSON(out)
	return nil
}

func (s *Service) BroadcastTxCommit(_ *http.Request, args *TxArgs, reply *near.FinalExecutionOutcome) error {
	if len(*args) != 1 {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "expected one base64 encoded transaction"}
	}
	st, digest, err := near.DecodeSignedTransactionDigest((*args)[0])
	if err != nil {
		return &json2.Error{Code: json2.E_PARSE, Message: "Parse error", Data: err.Error()}
	}
	outcome, err := s.node.broadcast(st, digest)
	if err != nil {
		var invalid *invalidTxError
		if errors.As(err, &invalid) {
			return serverError(map[string]any{"TxExecutionError": map[string]json.RawMessage{"InvalidTxError": invalid.payload}})
		}
		return serverError(err.Error())
	}
	*reply = *outcome
	return nil
}

func (s *Service) Tx(_ *http.Request, args *TxArgs, reply *near.FinalExecutionOutcome) error {
	if len(*args) != 2 {
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: "expected transaction hash and sender"}
	}
	outcome, ok := s.node.outcome((*args)[0])
	if !ok || outcome.Transaction.SignerID != (*args)[1] {
		return serverError("UNKNOWN_TRANSACTION")
	}
	*reply = *outcome
	return nil
}

func (n *Node) headBlock() block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head()
}

func (n *Node) outcome(hash string) (*near.FinalExecutionOutcome, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out, ok := n.outcomes[hash]
	return out, ok
}

func (n *Node) viewAccount(id string) (near.AccountView, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.accounts[id]
	if !ok {
		return near.AccountView{}, fmt.Errorf("account %s does not exist while viewing", id)
	}
	head := n.head()
	return rec.view(head.height, head.hash), nil
}

type accessKeyView struct {
	Nonce       uint64 `json:"nonce"`
	Permission  any    `json:"permission"`
	BlockHeight uint64 `json:"block_height"`
	BlockHash   string `json:"block_hash"`
}

func (n *Node) viewAccessKey(id, publicKey string) (accessKeyView, error) {
	pk, err := near.ParsePublicKey(publicKey)
	if err != nil {
		return accessKeyView{}, fmt.Errorf("invalid public key %q: %v", publicKey, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.accounts[id]
	if !ok {
		return accessKeyView{}, fmt.Errorf("account %s does not exist while viewing", id)
	}
	key, ok := rec.keys[pk]
	if !ok {
		return accessKeyView{}, fmt.Errorf("access key %s does not exist while viewing", publicKey)
	}
	head := n.head()
	return accessKeyView{
		Nonce:       key.nonce,
		Permission:  permissionView(key.permission),
		BlockHeight: head.height,
		BlockHash:   head.hash,
	}, nil
}
