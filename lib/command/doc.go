/*
Package command implements the command table and the dispatcher of the server.

Every request is a list of byte strings, the first one naming the command.
Engine.Exec looks the command up, checks its arity, routes its keys, takes the
database locks the command needs and runs the handler on a Keyspace view of the
selected database. Handlers report failures as errors, which are converted to
RESP error replies at the dispatch boundary; a failing command never closes the
connection.

Handlers work against the Keyspace interface only, so the same handler runs on
the live store and inside a script transaction (see package script), where
writes are buffered until the script succeeds.
*/
package command
