// Package state persists one conversation document per chat (or user) scope.
//
// Every update runs inside a store transaction that holds an exclusive lock on
// its scope, so concurrent updates for one chat serialize while different chats
// proceed in parallel. The document type is supplied by the bot; this package
// only moves bytes and enforces the load/mutate/save-or-delete/commit protocol.
// When the store is unreachable the manager degrades to a best-effort cached
// copy and flags the session so callers can stop trusting derived state.
package state
