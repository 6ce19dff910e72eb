package worker

import (
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/toolexec"
)

// ToolSpec is the worker's local, hardcoded knowledge of a tool. A tool the
// worker has no entry for is never executed regardless of what the API says.
type ToolSpec struct {
	Name      domain.ToolName
	Binary    string
	Image     string
	Timeout   time.Duration
	StdoutCap int
}

var registry = map[domain.ToolName]ToolSpec{
	domain.ToolHTTPX:     {Name: domain.ToolHTTPX, Binary: "httpx", Image: "projectdiscovery/httpx:latest", Timeout: 60 * time.Second, StdoutCap: 10 << 10},
	domain.ToolNmap:      {Name: domain.ToolNmap, Binary: "nmap", Image: "instrumentisto/nmap:latest", Timeout: 300 * time.Second, StdoutCap: 50 << 10},
	domain.ToolSubfinder: {Name: domain.ToolSubfinder, Binary: "subfinder", Image: "projectdiscovery/subfinder:latest", Timeout: 120 * time.Second, StdoutCap: 20 << 10},
	domain.ToolDNSX:      {Name: domain.ToolDNSX, Binary: "dnsx", Image: "projectdiscovery/dnsx:latest", Timeout: 60 * time.Second, StdoutCap: 10 << 10},
	domain.ToolKatana:    {Name: domain.ToolKatana, Binary: "katana", Image: "projectdiscovery/katana:latest", Timeout: 180 * time.Second, StdoutCap: 50 << 10},
}

const (
	defaultToolTimeout = 30 * time.Second
	stderrCap          = 5 << 10
)

// LookupToolSpec returns the registry entry for name.
func LookupToolSpec(name domain.ToolName) (ToolSpec, bool) {
	spec, ok := registry[domain.ToolName(strings.ToLower(strings.TrimSpace(string(name))))]
	return spec, ok
}

func (t ToolSpec) limits(memory int64, cpu float64) toolexec.Limits {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return toolexec.Limits{
		Timeout:     timeout,
		CPU:         cpu,
		MemoryBytes: memory,
		StdoutCap:   t.StdoutCap,
		StderrCap:   stderrCap,
	}
}

var (
	allowedNmapFlags = map[string]bool{
		"-sV": true, "-O": true, "-A": true, "-Pn": true, "--open": true,
		"-T0": true, "-T1": true, "-T2": true, "-T3": true, "-T4": true,
	}
	allowedHTTPMethods = map[string]bool{"GET": true, "POST": true}
)

// checkArguments applies the worker side argument allowlist.
func checkArguments(inv domain.ToolInvocation) error {
	switch args := inv.Args.(type) {
	case domain.NmapArgs:
		return checkNmap(args)
	case *domain.NmapArgs:
		return checkNmap(*args)
	case domain.HTTPXArgs:
		return checkHTTPX(args)
	case *domain.HTTPXArgs:
		return checkHTTPX(*args)
	}
	return nil
}

func checkNmap(args domain.NmapArgs) error {
	for _, f := range args.Flags {
		if !allowedNmapFlags[f] {
			return domain.NewError(domain.CodeTokenInvalid, "nmap flag %q is not allowed on this worker", f)
		}
	}
	return nil
}

func checkHTTPX(args domain.HTTPXArgs) error {
	method := strings.ToUpper(strings.TrimSpace(args.Method))
	if method == "" {
		method = "GET"
	}
	if !allowedHTTPMethods[method] {
		return domain.NewError(domain.CodeTokenInvalid, "httpx method %q is not allowed on this worker", args.Method)
	}
	return nil
}
