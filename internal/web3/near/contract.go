package near

import (
	"context"
	"fmt"

	xerrors "NFTMarket-Harness/internal/errors"
)

// ContractMethods declares which methods a handle may invoke.
type ContractMethods struct {
	ViewMethods   []string
	ChangeMethods []string
}

// Contract calls a deployed contract on behalf of one account.
type Contract struct {
	account *Account
	id      string
	view    map[string]struct{}
	change  map[string]struct{}
}

func NewContract(account *Account, contractID string, methods ContractMethods) *Contract {
	c := &Contract{
		account: account,
		id:      contractID,
		view:    make(map[string]struct{}, len(methods.ViewMethods)),
		change:  make(map[string]struct{}, len(methods.ChangeMethods)),
	}
	for _, m := range methods.ViewMethods {
		c.view[m] = struct{}{}
	}
	for _, m := range methods.ChangeMethods {
		c.change[m] = struct{}{}
	}
	return c
}

func (c *Contract) ID() string { return c.id }

func (c *Contract) Account() *Account { return c.account }

// CallOption adjusts a change call.
type CallOption func(*FunctionCallRequest)

func WithGas(gas uint64) CallOption {
	return func(r *FunctionCallRequest) { r.Gas = gas }
}

func WithDeposit(deposit Amount) CallOption {
	return func(r *FunctionCallRequest) { r.Deposit = deposit }
}

// Request builds the function call for a declared change method, for
// batching several calls into one transaction.
func (c *Contract) Request(method string, args any, opts ...CallOption) (FunctionCallRequest, error) {
	if _, ok := c.change[method]; !ok {
		return FunctionCallRequest{}, xerrors.New(CodeMethodNotAllowed, fmt.Sprintf("%s is not a change method of %s", method, c.id))
	}
	req := FunctionCallRequest{ContractID: c.id, Method: method, Args: args}
	for _, opt := range opts {
		opt(&req)
	}
	return req, nil
}

// Call invokes a declared change method.
func (c *Contract) Call(ctx context.Context, method string, args any, opts ...CallOption) (*FinalExecutionOutcome, error) {
	req, err := c.Request(method, args, opts...)
	if err != nil {
		return nil, err
	}
	return c.account.FunctionCall(ctx, req)
}

// View invokes a declared view method and decodes the result into out.
func (c *Contract) View(ctx context.Context, method string, args, out any) error {
	if _, ok := c.view[method]; !ok {
		return xerrors.New(CodeMethodNotAllowed, fmt.Sprintf("%s is not a view method of %s", method, c.id))
	}
	return c.account.conn.ViewFunction(ctx, c.id, method, args, out)
}
