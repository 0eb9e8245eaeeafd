// Package probe checks whether an external host is reachable.
//
// The Pinger sends a single ICMP echo. It prefers an unprivileged datagram
// socket ("udp4"), then a raw socket ("ip4:icmp"). When the process may open
// neither it falls back to a TCP connect to the host's DNS port.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/st-keller/portal-client/standard"
	"github.com/st-keller/portal-client/types"
)

// protocolICMP is the IANA protocol number passed to icmp.ParseMessage.
const protocolICMP = 1

// DefaultFallbackPort is dialed when ICMP sockets are not permitted.
const DefaultFallbackPort = "53"

// TrackerName is the target name used in connectivity statistics.
const TrackerName = "probe"

// Config holds pinger configuration.
type Config struct {
	FallbackPort string
	Tracker      *standard.ConnectivityTracker
	Logger       *slog.Logger
}

// Pinger implements a single-echo reachability probe.
type Pinger struct {
	fallbackPort string
	tracker      *standard.ConnectivityTracker
	log          *slog.Logger

	listen func(network, address string) (*icmp.PacketConn, error)
	dial   func(ctx context.Context, network, address string) (net.Conn, error)

	id  int
	seq atomic.Uint32
}

// New creates a Pinger.
func New(config Config) *Pinger {
	port := config.FallbackPort
	if port == "" {
		port = DefaultFallbackPort
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := &net.Dialer{}
	return &Pinger{
		fallbackPort: port,
		tracker:      config.Tracker,
		log:          logger.With("component", "probe"),
		listen:       icmp.ListenPacket,
		dial:         dialer.DialContext,
		id:           os.Getpid() & 0xffff,
	}
}

// Ping reports whether host answers within timeout. Unreachability is
// (false, nil); an error is returned only for an unusable host or a
// cancelled context.
func (p *Pinger) Ping(ctx context.Context, host string, timeout time.Duration) (bool, error) {
	if host == "" {
		return false, fmt.Errorf("probe host required")
	}
	if timeout <= 0 {
		return false, fmt.Errorf("probe timeout must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	reachable, err := p.ping(ctx, host)
	latency := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			p.tracker.TrackFailure(TrackerName, host, latency, types.KindTimeout, "timeout")
			return false, nil
		}
		if ctxErr := context.Cause(ctx); ctxErr != nil {
			return false, ctxErr
		}
		p.tracker.TrackFailure(TrackerName, host, latency, types.KindUnknown, err.Error())
		return false, err
	}

	switch {
	case reachable:
		p.tracker.TrackSuccess(TrackerName, host, latency)
	case ctx.Err() == context.DeadlineExceeded:
		p.tracker.TrackFailure(TrackerName, host, latency, types.KindTimeout, "timeout")
	default:
		p.tracker.TrackFailure(TrackerName, host, latency, types.KindNetworkUnreachable, "unreachable")
	}
	return reachable, nil
}

func (p *Pinger) ping(ctx context.Context, host string) (bool, error) {
	ip, err := resolve(ctx, host)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// No resolver answer is the same as no network.
		p.log.Debug("Probe host did not resolve", "host", host, "error", err.Error())
		return false, nil
	}

	conn, network, err := p.openICMP()
	if err != nil {
		p.log.Debug("ICMP unavailable, using TCP fallback", "error", err.Error())
		return p.pingTCP(ctx, ip)
	}
	defer conn.Close()

	return p.pingICMP(ctx, conn, network, ip)
}

// openICMP tries the unprivileged socket first.
func (p *Pinger) openICMP() (*icmp.PacketConn, string, error) {
	var errs []error
	for _, network := range []string{"udp4", "ip4:icmp"} {
		conn, err := p.listen(network, "0.0.0.0")
		if err == nil {
			return conn, network, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", network, err))
	}
	return nil, "", errors.Join(errs...)
}

func (p *Pinger) pingICMP(ctx context.Context, conn *icmp.PacketConn, network string, ip net.IP) (bool, error) {
	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("campusnet")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return false, fmt.Errorf("failed to marshal echo: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	var dst net.Addr = &net.IPAddr{IP: ip}
	if network == "udp4" {
		dst = &net.UDPAddr{IP: ip}
	}
	if _, err := conn.WriteTo(wb, dst); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// sendto fails with ENETUNREACH and friends when there is no route.
		return false, nil
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return false, nil
			}
			return false, fmt.Errorf("failed to read reply: %w", err)
		}

		reply, err := icmp.ParseMessage(protocolICMP, rb[:n])
		if err != nil {
			continue
		}
		if reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		// The kernel rewrites the ID of unprivileged echoes, so match on Seq.
		if echo, ok := reply.Body.(*icmp.Echo); ok && echo.Seq == seq {
			return true, nil
		}
	}
}

// pingTCP treats an accepted or refused connection as proof of reachability.
func (p *Pinger) pingTCP(ctx context.Context, ip net.IP) (bool, error) {
	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(ip.String(), p.fallbackPort))
	if err == nil {
		_ = conn.Close()
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true, nil
	}
	return false, nil
}

func resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address for %s", host)
}
