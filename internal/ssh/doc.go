// Package ssh carries the relay's back-end connections over an SSH server.
//
// [Client] settings describe how to authenticate (password, private key or
// the SSH agent) and how to verify host keys (known_hosts with trust on first
// use). [NewClient] runs the handshake over an existing TCP connection; the
// caller then opens one "direct-tcpip" channel per relayed connection, the
// same mechanism as ssh -W.
//
// [Server] is the matching server side. It accepts "direct-tcpip" channels
// and can be restricted to a fixed set of destinations with
// ServerConfig.PermitOpen.
package ssh
