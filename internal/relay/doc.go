// Package relay accepts client connections and splices each one to a fixed
// back-end.
//
// Server.Serve runs the accept loop and hands every connection to its own
// goroutine. That goroutine dials the back-end, optionally writes a PROXY
// protocol header carrying the client's address, then copies bytes in both
// directions until either side closes or fails. Both connections are always
// closed when it returns. Nothing is shared between connections except the
// read-only Config.
package relay
