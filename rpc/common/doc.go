// Package common provides the configuration and logging shared by the RPC
// server, the RPC client and the command line interface.
//
// Key Components:
//
//   - ServerConfig: All server settings (transport, storage, expiration,
//     cluster routing, raft and admin endpoint). It converts itself into the
//     Dragonboat NodeHost and replica configuration and renders the startup
//     banner with String.
//
//   - ClientConfig: Endpoints, pool size, retries, timeout, protocol version
//     and database of a client.
//
//   - Logging: A custom implementation of Dragonboat's logger.ILogger
//     interface. InitLoggers installs it as the logger factory and sets the
//     level of every logger of rKV and Dragonboat.
package common
