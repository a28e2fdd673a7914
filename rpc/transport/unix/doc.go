// Package unix implements the Unix domain socket transport for RESP clients
// and the server. It is meant for clients on the same machine and avoids the
// TCP/IP stack entirely.
//
// The server removes a stale socket file before it starts listening.
package unix
