// Package scenario drives the NFT series and marketplace contracts through
// scripted sequences of calls and view assertions. Every step declares what
// it expects, the result is classified and judged, and the judgements roll up
// into a report whose verdict is passed, failed or inconclusive.
package scenario
