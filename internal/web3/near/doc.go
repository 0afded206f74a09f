// Package near is a small NEAR protocol client: ed25519 key handling, borsh
// transaction encoding, a JSON-RPC transport with retries and the account and
// contract handles the scenarios drive. Call failures are returned as coded
// errors from internal/errors so callers can classify them.
package near
