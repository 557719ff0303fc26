package scan

import (
	"context"
	"encoding/binary"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	nameLookupTimeout = 2 * time.Second
	netbiosPort       = "137"
	llmnrPort         = 5355
)

var llmnrGroup = net.IPv4(224, 0, 0, 252)

// LookupNames asks host for its own names over NetBIOS and LLMNR and falls
// back to reverse DNS. The result is ordered by preference: NetBIOS names,
// then LLMNR names, then PTR records.
func LookupNames(ctx context.Context, host string) []string {
	ctx, cancel := context.WithTimeout(ctx, nameLookupTimeout)
	defer cancel()

	var netbios, llmnr, ptr []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		netbios = lookupNetBIOS(gctx, host)
		return nil
	})
	g.Go(func() error {
		llmnr = lookupLLMNR(gctx, host)
		return nil
	})
	g.Go(func() error {
		ptr = LookupHostnames(gctx, host)
		return nil
	})
	_ = g.Wait()

	return orderedUnique(netbios, llmnr, ptr)
}

// orderedUnique concatenates the groups, dropping repeats but keeping the
// first occurrence's position.
func orderedUnique(groups ...[]string) []string {
	return lo.UniqBy(lo.Flatten(groups), strings.ToLower)
}

// nbstatQuery is a node status request for the wildcard name "*".
var nbstatQuery = func() []byte {
	q := []byte{
		0x53, 0x53, // transaction id
		0x00, 0x00, // flags
		0x00, 0x01, // one question
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x20, 'C', 'K',
	}
	for i := 0; i < 30; i++ {
		q = append(q, 'A')
	}
	return append(q, 0x00, 0x00, 0x21, 0x00, 0x01)
}()

func lookupNetBIOS(ctx context.Context, host string) []string {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", net.JoinHostPort(host, netbiosPort))
	if err != nil {
		return nil
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(nbstatQuery); err != nil {
		return nil
	}
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return nil
	}
	return parseNodeStatus(buf[:n])
}

// parseNodeStatus extracts the active unique workstation and server names
// from a NetBIOS node status response.
func parseNodeStatus(data []byte) []string {
	if len(data) < 12 || data[2]&0x80 == 0 {
		return nil
	}
	if binary.BigEndian.Uint16(data[6:8]) == 0 {
		return nil
	}

	off := 12
	if questions := binary.BigEndian.Uint16(data[4:6]); questions > 0 {
		next, ok := skipNBName(data, off)
		if !ok {
			return nil
		}
		off = next + 4
	}
	off, ok := skipNBName(data, off)
	if !ok || off+11 > len(data) {
		return nil
	}
	if binary.BigEndian.Uint16(data[off:off+2]) != 0x21 {
		return nil
	}
	off += 10 // type, class, ttl, rdlength
	count := int(data[off])
	off++

	var names []string
	for i := 0; i < count && off+18 <= len(data); i++ {
		entry := data[off : off+18]
		off += 18
		name := strings.TrimRight(string(entry[:15]), " \x00")
		suffix := entry[15]
		flags := binary.BigEndian.Uint16(entry[16:18])
		const groupBit, activeBit = 0x8000, 0x0400
		if name == "" || flags&groupBit != 0 || flags&activeBit == 0 {
			continue
		}
		if suffix == 0x00 || suffix == 0x20 {
			names = append(names, name)
		}
	}
	return uniqueStrings(names)
}

func skipNBName(data []byte, off int) (int, bool) {
	for off < len(data) {
		l := int(data[off])
		switch {
		case l == 0:
			return off + 1, true
		case l&0xC0 == 0xC0:
			return off + 2, off+2 <= len(data)
		default:
			off += l + 1
		}
	}
	return 0, false
}

func lookupLLMNR(ctx context.Context, host string) []string {
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil
	}
	arpa, err := dns.ReverseAddr(host)
	if err != nil {
		return nil
	}
	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = false
	query, err := msg.Pack()
	if err != nil {
		return nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	_, _ = conn.WriteToUDP(query, &net.UDPAddr{IP: llmnrGroup, Port: llmnrPort})
	_, _ = conn.WriteToUDP(query, &net.UDPAddr{IP: ip, Port: llmnrPort})

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil
		}
		if names := parseLLMNRResponse(buf[:n], msg.Id); len(names) > 0 {
			return names
		}
	}
}

func parseLLMNRResponse(data []byte, id uint16) []string {
	var resp dns.Msg
	if err := resp.Unpack(data); err != nil {
		return nil
	}
	if !resp.Response || resp.Id != id {
		return nil
	}
	var names []string
	for _, rr := range resp.Answer {
		ptr, ok := rr.(*dns.PTR)
		if !ok {
			continue
		}
		name := strings.TrimSuffix(ptr.Ptr, ".")
		name = strings.TrimSuffix(name, ".local")
		names = append(names, name)
	}
	return uniqueStrings(names)
}
