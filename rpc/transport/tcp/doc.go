// Package tcp implements the TCP transport for RESP clients and the server.
// It provides the TCP connectors for the base package and applies the
// configured socket options (no delay, buffer sizes, keep-alive, linger) to
// every accepted or dialed connection.
package tcp
