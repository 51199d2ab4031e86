package proxyproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
)

var (
	// ErrFamilyMismatch is returned when the client and proxy addresses are
	// not both IPv4 or both IPv6.
	ErrFamilyMismatch = errors.New("proxyproto: client and proxy address families differ")

	// ErrInvalidAddress is returned for addresses that can't be represented
	// in a PROXY header.
	ErrInvalidAddress = errors.New("proxyproto: invalid address")
)

// sigV2 starts every version 2 header.
var sigV2 = [12]byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

const (
	verCmdProxyV2 = 0x21 // version 2, PROXY command
	famTCP4       = 0x11 // AF_INET, SOCK_STREAM
	famTCP6       = 0x21 // AF_INET6, SOCK_STREAM

	addrLenTCP4 = 4 + 4 + 2 + 2
	addrLenTCP6 = 16 + 16 + 2 + 2

	// HeaderLenV2TCP4 and HeaderLenV2TCP6 are the encoded sizes of version
	// 2 headers.
	HeaderLenV2TCP4 = 16 + addrLenTCP4
	HeaderLenV2TCP6 = 16 + addrLenTCP6

	// MaxHeaderLenV1 is the longest possible version 1 line, CRLF included.
	MaxHeaderLenV1 = 107
)

// EncodeV1 returns the version 1 text header announcing a TCP connection
// from client to proxy.
func EncodeV1(client, proxy netip.AddrPort) ([]byte, error) {
	client, proxy, err := normalize(client, proxy)
	if err != nil {
		return nil, err
	}

	family := "TCP4"
	if client.Addr().Is6() {
		family = "TCP6"
	}

	b := make([]byte, 0, MaxHeaderLenV1)
	b = append(b, "PROXY "...)
	b = append(b, family...)
	b = append(b, ' ')
	b = client.Addr().AppendTo(b)
	b = append(b, ' ')
	b = proxy.Addr().AppendTo(b)
	b = append(b, ' ')
	b = strconv.AppendUint(b, uint64(client.Port()), 10)
	b = append(b, ' ')
	b = strconv.AppendUint(b, uint64(proxy.Port()), 10)
	b = append(b, "\r\n"...)
	return b, nil
}

// EncodeV2 returns the version 2 binary header announcing a TCP connection
// from client to proxy.
func EncodeV2(client, proxy netip.AddrPort) ([]byte, error) {
	client, proxy, err := normalize(client, proxy)
	if err != nil {
		return nil, err
	}

	fam, addrLen := byte(famTCP4), addrLenTCP4
	if client.Addr().Is6() {
		fam, addrLen = famTCP6, addrLenTCP6
	}

	b := make([]byte, 0, 16+addrLen)
	b = append(b, sigV2[:]...)
	b = append(b, verCmdProxyV2, fam)
	b = binary.BigEndian.AppendUint16(b, uint16(addrLen))
	b = append(b, client.Addr().AsSlice()...)
	b = append(b, proxy.Addr().AsSlice()...)
	b = binary.BigEndian.AppendUint16(b, client.Port())
	b = binary.BigEndian.AppendUint16(b, proxy.Port())
	return b, nil
}

// Encode builds the header for v from the addresses of an accepted
// connection: client is its RemoteAddr and proxy its LocalAddr. It returns a
// nil slice when v is Disabled.
func Encode(v Version, client, proxy net.Addr) ([]byte, error) {
	if v == Disabled {
		return nil, nil
	}

	src, err := addrPort(client)
	if err != nil {
		return nil, fmt.Errorf("client address: %w", err)
	}
	dst, err := addrPort(proxy)
	if err != nil {
		return nil, fmt.Errorf("proxy address: %w", err)
	}

	switch v {
	case V1:
		return EncodeV1(src, dst)
	case V2:
		return EncodeV2(src, dst)
	default:
		return nil, fmt.Errorf("proxyproto: unsupported version %v", v)
	}
}

// WriteHeader encodes the header for v and writes it to w in a single Write.
// Nothing is written when v is Disabled.
func WriteHeader(w io.Writer, v Version, client, proxy net.Addr) (int, error) {
	hdr, err := Encode(v, client, proxy)
	if err != nil || len(hdr) == 0 {
		return 0, err
	}
	return w.Write(hdr)
}

func addrPort(a net.Addr) (netip.AddrPort, error) {
	switch t := a.(type) {
	case *net.TCPAddr:
		if t == nil {
			return netip.AddrPort{}, ErrInvalidAddress
		}
		return t.AddrPort(), nil
	case interface{ AddrPort() netip.AddrPort }:
		return t.AddrPort(), nil
	case nil:
		return netip.AddrPort{}, ErrInvalidAddress
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: unsupported address type %T", ErrInvalidAddress, a)
	}
}

// normalize unmaps 4-in-6 addresses, drops zones and checks that both
// addresses share a family.
func normalize(client, proxy netip.AddrPort) (netip.AddrPort, netip.AddrPort, error) {
	if !client.Addr().IsValid() || !proxy.Addr().IsValid() {
		return client, proxy, ErrInvalidAddress
	}

	client = netip.AddrPortFrom(client.Addr().Unmap().WithZone(""), client.Port())
	proxy = netip.AddrPortFrom(proxy.Addr().Unmap().WithZone(""), proxy.Port())

	if client.Addr().Is4() != proxy.Addr().Is4() {
		return client, proxy, fmt.Errorf("%w: %s and %s", ErrFamilyMismatch, client.Addr(), proxy.Addr())
	}
	return client, proxy, nil
}
