/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package udp6 is a real, syscall-backed hostif.Stack: two raw IPv6
// sockets (one for ICMPv6 control traffic, one for the experimental
// protocol number the forwarded multicast datagrams carry), joined to
// the all-nodes/all-routers multicast groups, with hop-limit enforcement
// set via socket options rather than trusted from userspace.
package udp6

import (
	"fmt"
	"net"

	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/higebu/netfd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kfathallah/contiki-mcast/hostif"
)

// dataProtocol is IANA's "Use for experimentation and testing"
// reservation (RFC 3692); the forwarder's data plane runs below the
// transport layer and has no IANA-assigned protocol number of its own.
const dataProtocol = 253

// minSupportedKernel is logged as a warning, not enforced: IPV6_JOIN_GROUP
// and IPV6_MULTICAST_HOPS are old enough that this is a diagnostic aid,
// not a hard gate.
var minSupportedKernel = kernel.VersionInfo{Kernel: 3, Major: 0, Minor: 0}

// Stack binds hostif.Stack to two raw IPv6 sockets on ifaceName.
type Stack struct {
	iface *net.Interface
	icmp  *net.IPConn
	data  *net.IPConn

	buf    []byte
	bufLen int
	extLen int

	log *logrus.Entry
}

// Open binds Stack to ifaceName, joins both multicast groups on it, and
// logs the host kernel version once for operational triage.
func Open(ifaceName string, mtu int, log *logrus.Logger) (*Stack, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("udp6: resolve interface %s: %w", ifaceName, err)
	}

	icmpConn, err := net.ListenIP("ip6:ipv6-icmp", &net.IPAddr{Zone: ifaceName})
	if err != nil {
		return nil, fmt.Errorf("udp6: open icmpv6 socket: %w", err)
	}
	dataConn, err := net.ListenIP(fmt.Sprintf("ip6:%d", dataProtocol), &net.IPAddr{Zone: ifaceName})
	if err != nil {
		icmpConn.Close()
		return nil, fmt.Errorf("udp6: open data socket: %w", err)
	}

	s := &Stack{
		iface: iface,
		icmp:  icmpConn,
		data:  dataConn,
		buf:   make([]byte, mtu),
		log:   log.WithField("component", "udp6").WithField("iface", ifaceName),
	}

	if v, err := kernel.GetKernelVersion(); err != nil {
		s.log.WithError(err).Warn("could not determine kernel version")
	} else if kernel.CompareKernelVersion(*v, minSupportedKernel) < 0 {
		s.log.WithField("kernel", v.String()).Warn("kernel older than expected for IPv6 multicast socket options")
	} else {
		s.log.WithField("kernel", v.String()).Info("udp6 stack ready")
	}

	if err := s.joinGroups(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.setHopLimits(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Stack) Close() error {
	var err error
	if s.icmp != nil {
		err = s.icmp.Close()
	}
	if s.data != nil {
		if e := s.data.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

var allNodes = net.ParseIP("ff02::1")
var allRouters = net.ParseIP("ff02::2")

func (s *Stack) joinGroups() error {
	for _, conn := range []*net.IPConn{s.icmp, s.data} {
		fd := netfd.GetFdFromConn(conn)
		for _, grp := range []net.IP{allNodes, allRouters} {
			mreq := &unix.IPv6Mreq{Interface: uint32(s.iface.Index)}
			copy(mreq.Multiaddr[:], grp.To16())
			if err := unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq); err != nil {
				return fmt.Errorf("udp6: join %s: %w", grp, err)
			}
		}
	}
	return nil
}

func (s *Stack) setHopLimits() error {
	for _, conn := range []*net.IPConn{s.icmp, s.data} {
		fd := netfd.GetFdFromConn(conn)
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, 255); err != nil {
			return fmt.Errorf("udp6: set multicast hop limit: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, 255); err != nil {
			return fmt.Errorf("udp6: set unicast hop limit: %w", err)
		}
	}
	return nil
}

func (s *Stack) Buffer() []byte { return s.buf }

func (s *Stack) SetBufferLen(n int) { s.bufLen = n }
func (s *Stack) BufferLen() int     { return s.bufLen }

func (s *Stack) ExtLen() int     { return s.extLen }
func (s *Stack) SetExtLen(n int) { s.extLen = n }

func (s *Stack) GetLinkLocalAddress(preferred bool) (net.IP, bool) {
	addrs, err := s.iface.Addrs()
	if err != nil {
		s.log.WithError(err).Warn("enumerate interface addresses")
		return nil, false
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipn.IP.To4() == nil && ipn.IP.IsLinkLocalUnicast() {
			return ipn.IP, true
		}
	}
	return nil, false
}

func (s *Stack) SelectSourceAddress(dest net.IP) net.IP {
	ll, ok := s.GetLinkLocalAddress(true)
	if !ok {
		return nil
	}
	return ll
}

func (s *Stack) ICMP6Checksum(src, dst net.IP, payload []byte) uint16 {
	var sum uint32
	add := func(b []byte) {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(b[i])<<8 | uint32(b[i+1])
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}
	add(src.To16())
	add(dst.To16())
	var lenBuf [4]byte
	lenBuf[3] = byte(len(payload))
	lenBuf[2] = byte(len(payload) >> 8)
	add(lenBuf[:])
	add([]byte{0, 0, 0, unix.IPPROTO_ICMPV6})
	add(payload)
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Output transmits the current buffer's ICMPv6 or data-protocol content
// on whichever raw socket matches the next-header byte the caller set.
func (s *Stack) Output() error {
	if s.bufLen < 7 {
		return fmt.Errorf("udp6: buffer too short to contain a next-header byte")
	}
	conn := s.connFor(s.buf[6])
	_, err := conn.Write(s.buf[:s.bufLen])
	return err
}

func (s *Stack) IPv6Output(dst net.IP) error {
	conn := s.connFor(s.buf[6])
	_, err := conn.WriteToIP(s.buf[:s.bufLen], &net.IPAddr{IP: dst, Zone: s.iface.Name})
	return err
}

func (s *Stack) connFor(nextHeader byte) *net.IPConn {
	if nextHeader == unix.IPPROTO_ICMPV6 {
		return s.icmp
	}
	return s.data
}

var _ hostif.Stack = (*Stack)(nil)
