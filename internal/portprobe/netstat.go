package portprobe

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/command"
)

// DefaultNetstatCommand lists TCP/UDP sockets with owning process.
const DefaultNetstatCommand = "netstat -tulpn"

var (
	// first ":<digits>" followed by whitespace is the local (listening) address
	portRe = regexp.MustCompile(`:(\d+)\s+`)
	// the token after the final "/" is the owning program, preceded by its PID
	ownerRe = regexp.MustCompile(`(?:(\d+)/)?([^/]+)$`)
)

// Netstat parses the text output of a listening-socket command. Kept for
// hosts where the native enumeration is not permitted.
type Netstat struct {
	Runner  command.Runner
	Command string
}

func NewNetstat(r command.Runner) *Netstat {
	return &Netstat{Runner: r, Command: DefaultNetstatCommand}
}

func (n *Netstat) output(ctx context.Context) ([]byte, error) {
	cmdline := n.Command
	if cmdline == "" {
		cmdline = DefaultNetstatCommand
	}
	out, err := n.Runner.Run(ctx, cmdline)
	if err != nil {
		return nil, apperr.Command("portprobe.netstat", "", err, out)
	}
	return out, nil
}

func (n *Netstat) ListeningPorts(ctx context.Context) (map[int]struct{}, error) {
	out, err := n.output(ctx)
	if err != nil {
		return nil, err
	}
	used := make(map[int]struct{})
	for _, line := range listenLines(out) {
		if port, ok := parsePort(line); ok {
			used[port] = struct{}{}
		}
	}
	return used, nil
}

func (n *Netstat) ListeningProcesses(ctx context.Context) ([]Listener, error) {
	out, err := n.output(ctx)
	if err != nil {
		return nil, err
	}
	return ParseNetstat(out), nil
}

func (n *Netstat) PortInUse(ctx context.Context, port int) (bool, error) {
	out, err := n.output(ctx)
	if err != nil {
		return false, err
	}
	needle := regexp.MustCompile(`:` + strconv.Itoa(port) + `\s`)
	for _, line := range listenLines(out) {
		if needle.MatchString(line) {
			return true, nil
		}
	}
	return false, nil
}

// ParseNetstat extracts application listeners from netstat-style output.
func ParseNetstat(out []byte) []Listener {
	all := make([]Listener, 0)
	for _, line := range listenLines(out) {
		port, ok := parsePort(line)
		if !ok {
			continue
		}
		m := ownerRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || !strings.Contains(line, "/") {
			continue
		}
		name := strings.TrimSpace(m[2])
		pid, _ := strconv.Atoi(m[1])
		all = append(all, Listener{Name: name, Port: port, PID: pid})
	}
	return applicationListeners(all)
}

func parsePort(line string) (int, bool) {
	m := portRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	p, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return p, true
}

// listenLines returns lines in LISTEN state (the equivalent of grep LISTEN).
func listenLines(out []byte) []string {
	lines := make([]string, 0)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, "LISTEN") {
			lines = append(lines, line)
		}
	}
	return lines
}
