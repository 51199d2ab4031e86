// Package dialer opens the relay's back-end connections.
//
// Every accepted client connection gets one back-end connection, dialed
// either directly or through an upstream proxy (HTTP CONNECT or SOCKS5) when
// the back-end is only reachable that way. Dialers carry no state between
// calls, so each relayed connection dials independently.
package dialer
