package data

import (
	"fmt"
	"net"

	"github.com/vx-labs/broker/brokererr"
)

// Address stores an IPv4 or IPv6 address as 16 bytes in network order,
// using the standard v4-mapped-v6 prefix to flag the family, following
// identity.Address's role in the teacher pack but widened to the
// binary representation spec.md §3 requires.
type Address struct {
	bytes [16]byte
	v4    bool
}

// ParseAddress parses a literal IPv4 or IPv6 address string.
func ParseAddress(s string) (Address, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return Address{}, brokererr.New(brokererr.InvalidData, fmt.Sprintf("not an address: %q", s))
	}
	return fromNetIP(ip), nil
}

func fromNetIP(ip net.IP) Address {
	var a Address
	if v4 := ip.To4(); v4 != nil {
		copy(a.bytes[:], v4.To16())
		a.v4 = true
		return a
	}
	copy(a.bytes[:], ip.To16())
	a.v4 = false
	return a
}

// AddressFromV4 builds an Address from four IPv4 octets.
func AddressFromV4(a, b, c, d byte) Address {
	ip := net.IPv4(a, b, c, d)
	return fromNetIP(ip)
}

func (a Address) IsV4() bool { return a.v4 }

func (a Address) netIP() net.IP {
	if a.v4 {
		return net.IP(a.bytes[12:16])
	}
	return net.IP(a.bytes[:])
}

func (a Address) String() string {
	return a.netIP().String()
}

// Bytes returns the 16-byte network-order representation.
func (a Address) Bytes() [16]byte { return a.bytes }

func (a Address) Equal(other Address) bool {
	return a.bytes == other.bytes && a.v4 == other.v4
}

// Mask keeps the top topBitsToKeep bits and zeroes the rest. For IPv4
// addresses, topBitsToKeep is expressed relative to the full 128-bit
// v4-mapped representation: masking to 112+n keeps the top n bits of
// the embedded IPv4 address, per spec.md §8.
func (a Address) Mask(topBitsToKeep int) (Address, error) {
	if topBitsToKeep < 0 || topBitsToKeep > 128 {
		return Address{}, brokererr.New(brokererr.InvalidData, "mask width out of range")
	}
	out := a
	bitsToZero := 128 - topBitsToKeep
	for i := 15; bitsToZero > 0; i-- {
		if bitsToZero >= 8 {
			out.bytes[i] = 0
			bitsToZero -= 8
		} else {
			mask := byte(0xFF << uint(bitsToZero))
			out.bytes[i] &= mask
			bitsToZero = 0
		}
	}
	return out, nil
}

// Port is a 16-bit transport port, carried alongside its protocol.
type Port struct {
	Number   uint16
	Protocol Protocol
}

type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolICMP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolICMP:
		return "icmp"
	default:
		return "?"
	}
}

func (p Port) String() string {
	return fmt.Sprintf("%d/%s", p.Number, p.Protocol)
}
