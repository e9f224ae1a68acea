package sinc

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// tcpSocket wraps the non-blocking fd-level connect/read/write primitives
// from spec §4.A. It's deliberately lower-level than net.Conn: the device
// protocol's own timeout semantics (-1 = infinite, 0 = poll) don't map
// cleanly onto net.Conn's deadline API, and the request/reply engine needs
// to multiplex a TCP fd against a UDP fd in one readiness wait (spec §4.G).
type tcpSocket struct {
	fd int
}

// connectTCP resolves host, opens a non-blocking stream socket, and waits
// for write-readiness bounded by timeoutMs, exactly as spec §4.A describes.
// Grounded on original_source/dxpApp/sincSrc/socket.c's SincSocketConnect,
// re-expressed against golang.org/x/sys/unix instead of raw cgo syscalls.
func connectTCP(host string, port int, timeoutMs int) (*tcpSocket, Error) {
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return nil, newError(HostNotFound)
	}

	var sa unix.Sockaddr
	var domain int
	if ip4 := ips[0].To4(); ip4 != nil {
		domain = unix.AF_INET
		var addr unix.SockaddrInet4
		addr.Port = port
		copy(addr.Addr[:], ip4)
		sa = &addr
	} else {
		domain = unix.AF_INET6
		var addr unix.SockaddrInet6
		addr.Port = port
		copy(addr.Addr[:], ips[0].To16())
		sa = &addr
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, newError(OutOfResources)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, newError(OutOfResources)
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, classifyConnectErr(err)
	}

	if err == unix.EINPROGRESS {
		ready, werr := waitWritable(fd, timeoutMs)
		if werr.Code != NoError {
			unix.Close(fd)
			return nil, werr
		}
		if !ready {
			unix.Close(fd)
			return nil, newError(Timeout)
		}

		// Examine the socket's pending error after readiness, per spec §4.A.
		soErr, serr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if serr != nil {
			unix.Close(fd)
			return nil, newError(ConnectionFailed)
		}
		if soErr != 0 {
			unix.Close(fd)
			return nil, classifyConnectErr(unix.Errno(soErr))
		}
	}

	return &tcpSocket{fd: fd}, Error{}
}

func classifyConnectErr(err error) Error {
	switch err {
	case unix.ECONNREFUSED, unix.ENETUNREACH:
		return newError(ConnectionFailed)
	case unix.EHOSTUNREACH:
		return newError(HostUnreachable)
	case unix.ETIMEDOUT:
		return newError(Timeout)
	default:
		return newError(ConnectionFailed)
	}
}

// disconnect half-closes then closes fd, per spec §4.A.
func (s *tcpSocket) disconnect() {
	if s == nil || s.fd < 0 {
		return
	}
	unix.Shutdown(s.fd, unix.SHUT_RDWR)
	unix.Close(s.fd)
	s.fd = -1
}

// waitWritable blocks until fd is writable or timeoutMs elapses, retrying on
// EINTR (spec §4.A "Retries on interrupted syscalls").
func waitWritable(fd, timeoutMs int) (bool, Error) {
	return pollFD(fd, unix.POLLOUT, timeoutMs)
}

// waitReadable blocks until fd is readable or timeoutMs elapses.
func waitReadable(fd, timeoutMs int) (bool, Error) {
	return pollFD(fd, unix.POLLIN, timeoutMs)
}

func pollFD(fd int, events int16, timeoutMs int) (bool, Error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	n, err := pollRetryingEINTR(fds, timeoutMs)
	if err != nil {
		return false, newError(ConnectionFailed)
	}
	if n == 0 {
		return false, Error{}
	}
	return fds[0].Revents&events != 0, Error{}
}

func pollRetryingEINTR(fds []unix.PollFd, timeoutMs int) (int, error) {
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// waitMulti waits for readability across several fds at once, used by the
// multi-connection selector (spec §4.G) and the per-connection TCP+UDP wait
// (spec §4.E step 3). A zero timeout must poll (return immediately).
func waitMulti(fds []int, timeoutMs int) ([]bool, Error) {
	pollFds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pollFds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	n, err := pollRetryingEINTR(pollFds, timeoutMs)
	if err != nil {
		return nil, newError(ConnectionFailed)
	}

	ready := make([]bool, len(fds))
	if n == 0 {
		return ready, newError(Timeout)
	}
	for i := range pollFds {
		ready[i] = pollFds[i].Revents&unix.POLLIN != 0
	}
	return ready, Error{}
}

// read performs a single non-blocking read (spec §4.A). n==0 is reported
// to the caller as SocketClosedUnexpectedly by the receive pipeline, not
// here, since only the caller knows whether a zero-length read is expected.
func (s *tcpSocket) read(buf []byte) (int, Error) {
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, newError(Timeout)
		}
		if err == unix.EINTR {
			return 0, newError(Timeout)
		}
		return 0, newError(ReadFailed)
	}
	return n, Error{}
}

// write loops until all of p is written, tolerating partial writes and
// EINTR (spec §4.A).
func (s *tcpSocket) write(p []byte) Error {
	for len(p) > 0 {
		n, err := unix.Write(s.fd, p)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				if _, werr := waitWritable(s.fd, -1); werr.Code != NoError {
					return werr
				}
				continue
			}
			return newError(WriteFailed)
		}
		p = p[n:]
	}
	return Error{}
}

// udpSocket wraps the auxiliary datagram channel (spec §4.A bind_datagram /
// read_datagram). Unlike the teacher's radiod.go multicast groups, the
// device's UDP channel is a unicast ephemeral port bound locally and
// reported to the device over TCP (spec §6 Transport), so plain
// net.ListenUDP is the right level of abstraction here; only the TCP control
// channel needs raw-fd-level non-blocking connect semantics.
type udpSocket struct {
	conn *net.UDPConn
	fd   int
	port int
}

// bindDatagram creates a UDP socket bound to any local address and any
// ephemeral port, reporting the assigned port (spec §4.A bind_datagram).
func bindDatagram() (*udpSocket, Error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, newError(OutOfResources)
	}

	sc, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, newError(OutOfResources)
	}
	var fd int
	sc.Control(func(f uintptr) { fd = int(f) })

	port := conn.LocalAddr().(*net.UDPAddr).Port
	return &udpSocket{conn: conn, fd: fd, port: port}, Error{}
}

func (u *udpSocket) close() {
	if u == nil || u.conn == nil {
		return
	}
	u.conn.Close()
}

// readDatagram performs one recvfrom, distinguishing would-block (mapped to
// Timeout) from hard errors, per spec §4.A.
func (u *udpSocket) readDatagram(buf []byte, nonblocking bool) (int, Error) {
	if nonblocking {
		u.conn.SetReadDeadline(time.Now())
	} else {
		u.conn.SetReadDeadline(time.Time{})
	}
	n, err := u.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, newError(Timeout)
		}
		return 0, newError(ReadFailed)
	}
	return n, Error{}
}
