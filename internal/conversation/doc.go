// Package conversation orchestrates chat turns.
//
// # Overview
//
// Service sits between the request surfaces (HTTP, WebSocket, CLI) and the
// history store, reasoning agent and heading synthesizer. It owns the rules
// of a turn; the other components know nothing about threads.
//
//	svc := conversation.New(store, agent, headings, conversation.Options{
//	    AgentTimeout:   2 * time.Minute,
//	    HeadingTimeout: 30 * time.Second,
//	}, logger)
//
// # Turns
//
// A turn without a thread id starts a new thread:
//
//  1. Mint a thread id
//  2. Ask the agent for a reply to the message
//  3. Ask the heading synthesizer for a title
//  4. Append the exchange together with the heading
//
// A turn with a thread id continues it:
//
//  1. Load the thread (ErrNotFound if unknown)
//  2. Take the stored heading, or look it up in the listing, or use
//     "Default Heading"
//  3. Ask the agent for a reply given the whole history plus the message
//  4. Append only the new exchange
//
// Each turn calls the agent exactly once. Turns on the same thread are
// serialized by a per-thread lock held from the load to the append.
//
// # Errors
//
//   - ErrNotFound: unknown thread id or retry token
//   - *UpstreamError (ErrUpstream): agent or heading call failed or timed out;
//     nothing was written
//   - *PersistenceError (ErrPersistence): the store failed; for a turn, the
//     computed reply is still returned with a retry token
//
// # Retrying Writes
//
// When the final append fails, the turn is kept in memory for a while and
// RetryTurn(token) repeats only the append. If the thread received other
// turns in the meantime the retry is refused with ErrStaleRetry.
//
// # Event Broadcasting
//
// Every stored turn is published on the TurnBroadcaster under its thread id,
// so WebSocket clients following a thread see turns sent by other clients.
package conversation
