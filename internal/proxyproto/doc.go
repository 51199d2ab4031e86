// Package proxyproto encodes PROXY protocol headers.
//
// A relay that forwards a client connection to a back-end prepends one of
// these headers to the back-end stream so the back-end can recover the
// client's address. Version 1 is a single text line; version 2 is a fixed
// binary record. Only the PROXY command over TCP is produced, and no TLVs are
// emitted.
//
// See https://www.haproxy.org/download/2.9/doc/proxy-protocol.txt.
package proxyproto
