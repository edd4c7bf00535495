package prober

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/sitewatch/presence-agent/observability"
)

// Result is the outcome of one subnet sweep. Online holds the normalised
// MACs that responded, filtered to the set the caller cares about. MACByIP
// holds the full IP-to-MAC mapping observed, so callers can learn MACs for
// devices configured with only an IP.
type Result struct {
	Online  map[string]bool
	MACByIP map[string]string
}

// Sweeper probes the local subnet in one shot.
type Sweeper interface {
	Sweep(ctx context.Context, wanted map[string]bool) *Result
}

// ArpScanner shells out to arp-scan for a layer-2 sweep of the subnet.
type ArpScanner struct {
	Interface string
	CIDR      string
	Timeout   time.Duration

	// run is swappable for tests; defaults to executing arp-scan.
	run func(ctx context.Context) ([]byte, error)
}

func NewArpScanner(iface, cidr string, timeout time.Duration) *ArpScanner {
	s := &ArpScanner{Interface: iface, CIDR: cidr, Timeout: timeout}
	s.run = s.execArpScan
	return s
}

// Sweep runs one arp-scan pass. Any failure (missing tool, non-zero exit,
// timeout) yields an empty result: callers cannot distinguish it from
// "everyone is offline this tick", and the scan loop's debounce absorbs the
// false negative.
func (s *ArpScanner) Sweep(ctx context.Context, wanted map[string]bool) *Result {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	out, err := s.run(ctx)
	if err != nil {
		log.Printf("Prober: arp-scan failed: %v", err)
		observability.ProbeFailures.Inc()
		return &Result{Online: map[string]bool{}, MACByIP: map[string]string{}}
	}
	return parseSweep(out, wanted)
}

func (s *ArpScanner) execArpScan(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx,
		"arp-scan",
		"--interface", s.Interface,
		"--retry", "4",
		"--timeout", "500",
		s.CIDR,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// parseSweep extracts (ip, mac) pairs from arp-scan output. Each line is
// split on whitespace; a token is a MAC iff it has exactly five colon
// separators and lowercases to the 17-char canonical form. Malformed tokens
// are ignored, not raised.
func parseSweep(out []byte, wanted map[string]bool) *Result {
	res := &Result{Online: map[string]bool{}, MACByIP: map[string]string{}}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		var ip, mac string
		for _, tok := range fields {
			if m, ok := NormalizeMAC(tok); ok && mac == "" {
				mac = m
				continue
			}
			if parsed := net.ParseIP(tok); parsed != nil && parsed.To4() != nil && ip == "" {
				ip = tok
			}
		}
		if mac == "" {
			continue
		}
		if ip != "" {
			res.MACByIP[ip] = mac
		}
		if wanted[mac] {
			res.Online[mac] = true
		}
	}
	return res
}

// NormalizeMAC lowercases a candidate MAC token and reports whether it is in
// canonical colon-separated 17-char form.
func NormalizeMAC(tok string) (string, bool) {
	if strings.Count(tok, ":") != 5 {
		return "", false
	}
	mac := strings.ToLower(tok)
	if len(mac) != 17 {
		return "", false
	}
	for i, c := range mac {
		if (i+1)%3 == 0 {
			if c != ':' {
				return "", false
			}
			continue
		}
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return mac, true
}
