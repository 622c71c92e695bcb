// Package session enforces the one-active-turn-per-conversation rule.
//
// The Manager holds an exclusive lock per conversation in a keyed map.
// BeginTurn acquires it or fails fast with ErrTurnConflict (callers retry;
// there is no queue). EndTurn is the only unlock path and always releases,
// whatever the turn's outcome. A watchdog force-releases any lock held
// longer than the maximum turn duration and cancels the turn's context, so
// a crashed or wedged turn cannot leave its conversation locked forever.
//
// The turn context returned by Turn.Context is the shared cancellation
// signal for the generation call and every chart call of the turn. It is
// deliberately not derived from the client's request context: client
// disconnection detaches delivery without aborting upstream work.
package session
