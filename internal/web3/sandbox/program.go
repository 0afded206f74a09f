package sandbox

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"NFTMarket-Harness/internal/web3/near"
)

// contractPanic aborts a method; the receipt fails with ExecutionError.
type contractPanic string

// methodNotFound aborts a call to a method the contract does not export.
type methodNotFound string

// promiseResult is what a callback sees of the receipt it was chained to.
type promiseResult struct {
	ok    bool
	value []byte
}

// promise is a receipt a contract asked for: a function call, or a plain
// transfer when method is empty. then runs after it whatever the outcome.
type promise struct {
	receiver string
	method   string
	args     []byte
	deposit  near.Amount
	gas      uint64
	then     *promise
}

// Then chains next after the last promise of p and returns p.
func (p *promise) Then(next *promise) *promise {
	last := p
	for last.then != nil {
		last = last.then
	}
	last.then = next
	return p
}

// callContext is the environment one method invocation runs in.
type callContext struct {
	current     string
	predecessor string
	signer      string
	deposit     near.Amount
	gas         uint64
	timestamp   uint64
	height      uint64
	balance     near.Amount
	results     []promiseResult
	view        bool

	logs     []string
	promises []*promise
	spent    near.Amount
}

func (c *callContext) panicf(format string, args ...any) {
	panic(contractPanic(fmt.Sprintf(format, args...)))
}

func (c *callContext) require(cond bool, format string, args ...any) {
	if !cond {
		c.panicf(format, args...)
	}
}

func (c *callContext) assertOneYocto() {
	c.require(c.deposit.Cmp(near.OneYocto()) == 0, "Requires attached deposit of exactly 1 yoctoNEAR")
}

func (c *callContext) assertAtLeastOneYocto() {
	c.require(!c.deposit.IsZero(), "Requires attached deposit of at least 1 yoctoNEAR")
}

func (c *callContext) assertPrivate(method string) {
	c.require(c.predecessor == c.current, "Method %s is private", method)
}

// decode reads JSON arguments into out.
func (c *callContext) decode(args []byte, out any) {
	if len(args) == 0 {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, out); err != nil {
		c.panicf("Failed to deserialize input from JSON.")
	}
}

func (c *callContext) log(msg string) {
	c.logs = append(c.logs, msg)
}

// logJSON writes a plain JSON log line, the form marketplace logs take.
func (c *callContext) logJSON(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.panicf("log: %v", err)
	}
	c.log(string(raw))
}

func (c *callContext) emit(standard, version, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.panicf("event: %v", err)
	}
	c.log(near.FormatEvent(near.Event{Standard: standard, Version: version, Event: event, Data: raw}))
}

// transfer sends amount from the current account once the call succeeds.
func (c *callContext) transfer(receiver string, amount near.Amount) {
	if amount.IsZero() {
		return
	}
	c.spend(amount)
	c.promises = append(c.promises, &promise{receiver: receiver, deposit: amount})
}

// call schedules a function call on receiver. The returned promise can be
// chained with Then or returned from the method.
func (c *callContext) call(receiver, method string, args any, deposit near.Amount, gas uint64) *promise {
	raw, err := json.Marshal(args)
	if err != nil {
		c.panicf("serialize %s args: %v", method, err)
	}
	c.spend(deposit)
	return &promise{receiver: receiver, method: method, args: raw, deposit: deposit, gas: gas}
}

// schedule registers a promise chain built with call.
func (c *callContext) schedule(p *promise) *promise {
	c.promises = append(c.promises, p)
	return p
}

func (c *callContext) spend(amount near.Amount) {
	if c.view {
		panic(contractPanic("ProhibitedInView"))
	}
	c.spent = c.spent.Add(amount)
	if c.spent.Cmp(c.balance) > 0 {
		c.panicf("Not enough balance to schedule a transfer of %s", amount)
	}
}

// promiseSuccess returns the value of the single promise this callback is
// chained to, or false when it failed.
func (c *callContext) promiseSuccess() ([]byte, bool) {
	if len(c.results) != 1 {
		c.panicf("Expected exactly one promise result")
	}
	return c.results[0].value, c.results[0].ok
}

// jsonU64 reads a u64 sent either as a number or as a decimal string.
type jsonU64 uint64

func (v jsonU64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(v), 10))
}

func (v *jsonU64) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %s", data)
	}
	*v = jsonU64(parsed)
	return nil
}

// window clamps a from_index/limit pair to a list of n items.
func window(n int, from *jsonU64, limit *uint64, def uint64) (int, int) {
	start := 0
	if from != nil {
		start = int(*from)
	}
	if start > n {
		start = n
	}
	size := def
	if limit != nil {
		size = *limit
	}
	end := start + int(size)
	if end > n || end < start {
		end = n
	}
	return start, end
}

// program is a contract implementation bound to a code hash.
type program interface {
	call(ctx *callContext, state []byte, method string, args []byte) ([]byte, any)
	view(ctx *callContext, state []byte, method string, args []byte) any
}

type (
	initFunc[S any]   func(ctx *callContext, args []byte) *S
	changeFunc[S any] func(ctx *callContext, s *S, args []byte) any
	viewFunc[S any]   func(ctx *callContext, s *S, args []byte) any
)

// contract dispatches methods over a JSON-persisted state of type S.
type contract[S any] struct {
	inits   map[string]initFunc[S]
	changes map[string]changeFunc[S]
	views   map[string]viewFunc[S]
}

func (c *contract[S]) call(ctx *callContext, state []byte, method string, args []byte) ([]byte, any) {
	if init, ok := c.inits[method]; ok {
		ctx.require(state == nil, "The contract has already been initialized")
		s := init(ctx, args)
		return mustMarshal(ctx, s), nil
	}
	if fn, ok := c.changes[method]; ok {
		s := c.load(ctx, state)
		ret := fn(ctx, s, args)
		return mustMarshal(ctx, s), ret
	}
	if _, ok := c.views[method]; ok {
		return state, c.view(ctx, state, method, args)
	}
	panic(methodNotFound(method))
}

func (c *contract[S]) view(ctx *callContext, state []byte, method string, args []byte) any {
	fn, ok := c.views[method]
	if !ok {
		panic(methodNotFound(method))
	}
	return fn(ctx, c.load(ctx, state), args)
}

func (c *contract[S]) load(ctx *callContext, state []byte) *S {
	ctx.require(state != nil, "The contract is not initialized")
	s := new(S)
	if err := json.Unmarshal(state, s); err != nil {
		ctx.panicf("Cannot deserialize the contract state.")
	}
	return s
}

func mustMarshal(ctx *callContext, v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		ctx.panicf("Cannot serialize the contract state: %v", err)
	}
	return raw
}
