package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

type ToolName string

const (
	ToolHTTPX      ToolName = "httpx"
	ToolNmap       ToolName = "nmap"
	ToolSubfinder  ToolName = "subfinder"
	ToolDNSX       ToolName = "dnsx"
	ToolKatana     ToolName = "katana"
	ToolSQLMap     ToolName = "sqlmap"
	ToolMetasploit ToolName = "metasploit"
)

// ToolClass orders tools by how dangerous they are to run.
type ToolClass string

const (
	ClassReconnaissance ToolClass = "reconnaissance"
	ClassActiveScan     ToolClass = "active_scan"
	ClassExploitation   ToolClass = "exploitation"
)

// ToolInfo is the static catalog entry for a known tool.
type ToolInfo struct {
	Name   ToolName
	Binary string
	Class  ToolClass
	// ManualOnly actions are never handed to a worker.
	ManualOnly bool
}

var knownTools = map[ToolName]ToolInfo{
	ToolHTTPX:      {Name: ToolHTTPX, Binary: "httpx", Class: ClassReconnaissance},
	ToolSubfinder:  {Name: ToolSubfinder, Binary: "subfinder", Class: ClassReconnaissance},
	ToolDNSX:       {Name: ToolDNSX, Binary: "dnsx", Class: ClassReconnaissance},
	ToolNmap:       {Name: ToolNmap, Binary: "nmap", Class: ClassActiveScan},
	ToolKatana:     {Name: ToolKatana, Binary: "katana", Class: ClassActiveScan},
	ToolSQLMap:     {Name: ToolSQLMap, Binary: "sqlmap", Class: ClassExploitation, ManualOnly: true},
	ToolMetasploit: {Name: ToolMetasploit, Binary: "msfconsole", Class: ClassExploitation, ManualOnly: true},
}

// LookupTool returns the catalog entry for name.
func LookupTool(name ToolName) (ToolInfo, bool) {
	info, ok := knownTools[ToolName(strings.ToLower(strings.TrimSpace(string(name))))]
	return info, ok
}

func KnownTools() []ToolName {
	return []ToolName{ToolHTTPX, ToolSubfinder, ToolDNSX, ToolNmap, ToolKatana, ToolSQLMap, ToolMetasploit}
}

var ErrUnknownTool = errors.New("unknown tool")

// Command is a fully resolved process invocation. Argv[0] is not the binary.
type Command struct {
	Argv  []string
	Stdin string
}

// ToolArgs is implemented by each tool variant's typed argument schema.
type ToolArgs interface {
	Tool() ToolName
	Validate() error
	// Values returns every caller supplied string, for argument safety checks.
	Values() []string
	Command(target string) Command
	isToolArgs()
}

// ToolInvocation is a tool plus its typed arguments.
// Args is nil when the stored arguments could not be parsed for Tool.
type ToolInvocation struct {
	Tool ToolName
	Args ToolArgs
	raw  json.RawMessage
}

func NewInvocation(args ToolArgs) ToolInvocation {
	return ToolInvocation{Tool: args.Tool(), Args: args}
}

// ParseInvocation decodes raw arguments into the typed variant for tool.
func ParseInvocation(tool ToolName, raw json.RawMessage) (ToolInvocation, error) {
	tool = ToolName(strings.ToLower(strings.TrimSpace(string(tool))))
	var args ToolArgs
	switch tool {
	case ToolHTTPX:
		args = &HTTPXArgs{}
	case ToolNmap:
		args = &NmapArgs{}
	case ToolSubfinder:
		args = &SubfinderArgs{}
	case ToolDNSX:
		args = &DNSXArgs{}
	case ToolKatana:
		args = &KatanaArgs{}
	case ToolSQLMap:
		args = &SQLMapArgs{}
	case ToolMetasploit:
		args = &MetasploitArgs{}
	default:
		return ToolInvocation{Tool: tool, raw: raw}, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(args); err != nil {
			return ToolInvocation{Tool: tool, raw: raw}, fmt.Errorf("decode %s arguments: %w", tool, err)
		}
	}
	return ToolInvocation{Tool: tool, Args: args}, nil
}

func (inv ToolInvocation) Validate() error {
	if inv.Args == nil {
		if _, ok := LookupTool(inv.Tool); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTool, inv.Tool)
		}
		return fmt.Errorf("%s arguments are missing or malformed", inv.Tool)
	}
	if inv.Args.Tool() != inv.Tool {
		return fmt.Errorf("arguments for %s attached to %s", inv.Args.Tool(), inv.Tool)
	}
	return inv.Args.Validate()
}

// RawArguments returns the JSON arguments object.
func (inv ToolInvocation) RawArguments() (json.RawMessage, error) {
	if inv.Args == nil {
		if len(inv.raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return inv.raw, nil
	}
	b, err := json.Marshal(inv.Args)
	if err != nil {
		return nil, err
	}
	return b, nil
}

type invocationJSON struct {
	Tool      ToolName        `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

func (inv ToolInvocation) MarshalJSON() ([]byte, error) {
	raw, err := inv.RawArguments()
	if err != nil {
		return nil, err
	}
	return json.Marshal(invocationJSON{Tool: inv.Tool, Arguments: raw})
}

func (inv *ToolInvocation) UnmarshalJSON(b []byte) error {
	var wire invocationJSON
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	parsed, _ := ParseInvocation(wire.Tool, wire.Arguments)
	*inv = parsed
	return nil
}

// HostOf strips scheme, path and port from a URL target.
func HostOf(target string) string {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return target
}

const targetMetacharacters = ";|&<>$`\\(){}'\""

// CheckTarget rejects targets a tool could read as an option, or that carry
// whitespace, control or shell characters. Line oriented tools read the
// target from stdin, so a newline would smuggle in a second host.
func CheckTarget(target string) error {
	if target == "" {
		return errors.New("target is required")
	}
	if len(target) > 2048 {
		return errors.New("target exceeds 2048 bytes")
	}
	if strings.HasPrefix(target, "-") || strings.HasPrefix(HostOf(target), "-") {
		return fmt.Errorf("target %q starts with an option prefix", target)
	}
	for _, r := range target {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("target %q contains whitespace or control characters", target)
		}
	}
	if i := strings.IndexAny(target, targetMetacharacters); i >= 0 {
		return fmt.Errorf("target %q contains shell metacharacter %q", target, target[i])
	}
	return nil
}

// URLOf turns a bare host target into an https URL.
func URLOf(target string) string {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "://") {
		return target
	}
	return "https://" + target
}

type HTTPXArgs struct {
	Method          string `json:"method,omitempty"`
	FollowRedirects bool   `json:"follow_redirects,omitempty"`
	TimeoutSec      int    `json:"timeout_sec,omitempty"`
}

func (HTTPXArgs) Tool() ToolName { return ToolHTTPX }
func (HTTPXArgs) isToolArgs()    {}

func (a HTTPXArgs) method() string {
	if a.Method == "" {
		return "GET"
	}
	return strings.ToUpper(a.Method)
}

func (a HTTPXArgs) Validate() error {
	switch a.method() {
	case "GET", "POST", "HEAD":
	default:
		return fmt.Errorf("httpx method %q is not supported", a.Method)
	}
	if a.TimeoutSec < 0 || a.TimeoutSec > 120 {
		return errors.New("httpx timeout_sec must be within 0..120")
	}
	return nil
}

func (a HTTPXArgs) Values() []string { return []string{a.Method} }

func (a HTTPXArgs) Command(target string) Command {
	argv := []string{"-u", URLOf(target), "-silent", "-json", "-status-code", "-title", "-x", a.method()}
	if a.FollowRedirects {
		argv = append(argv, "-follow-redirects")
	}
	if a.TimeoutSec > 0 {
		argv = append(argv, "-timeout", strconv.Itoa(a.TimeoutSec))
	}
	return Command{Argv: argv}
}

var (
	nmapFlagPattern  = regexp.MustCompile(`^--?[A-Za-z][A-Za-z0-9-]*$`)
	nmapPortsPattern = regexp.MustCompile(`^[0-9]{1,5}(-[0-9]{1,5})?(,[0-9]{1,5}(-[0-9]{1,5})?)*$`)
)

type NmapArgs struct {
	Flags []string `json:"flags,omitempty"`
	Ports string   `json:"ports,omitempty"`
}

func (NmapArgs) Tool() ToolName { return ToolNmap }
func (NmapArgs) isToolArgs()    {}

func (a NmapArgs) Validate() error {
	if len(a.Flags) > 16 {
		return errors.New("nmap accepts at most 16 flags")
	}
	for _, f := range a.Flags {
		if !nmapFlagPattern.MatchString(f) {
			return fmt.Errorf("nmap flag %q is malformed", f)
		}
		if f == "-p" {
			return errors.New("nmap ports go in the ports field")
		}
	}
	if a.Ports != "" && (len(a.Ports) > 64 || !nmapPortsPattern.MatchString(a.Ports)) {
		return fmt.Errorf("nmap ports %q are malformed", a.Ports)
	}
	return nil
}

func (a NmapArgs) Values() []string {
	return append(append([]string(nil), a.Flags...), a.Ports)
}

func (a NmapArgs) Command(target string) Command {
	argv := append([]string(nil), a.Flags...)
	if a.Ports != "" {
		argv = append(argv, "-p", a.Ports)
	}
	argv = append(argv, "--", HostOf(target))
	return Command{Argv: argv}
}

type SubfinderArgs struct {
	AllSources bool `json:"all_sources,omitempty"`
	Recursive  bool `json:"recursive,omitempty"`
}

func (SubfinderArgs) Tool() ToolName   { return ToolSubfinder }
func (SubfinderArgs) isToolArgs()      {}
func (SubfinderArgs) Validate() error  { return nil }
func (SubfinderArgs) Values() []string { return nil }

func (a SubfinderArgs) Command(target string) Command {
	argv := []string{"-d", HostOf(target), "-silent", "-json"}
	if a.AllSources {
		argv = append(argv, "-all")
	}
	if a.Recursive {
		argv = append(argv, "-recursive")
	}
	return Command{Argv: argv}
}

var dnsRecordTypes = map[string]bool{"a": true, "aaaa": true, "cname": true, "mx": true, "ns": true, "txt": true, "ptr": true}

type DNSXArgs struct {
	RecordTypes []string `json:"record_types,omitempty"`
}

func (DNSXArgs) Tool() ToolName { return ToolDNSX }
func (DNSXArgs) isToolArgs()    {}

func (a DNSXArgs) Validate() error {
	for _, rt := range a.RecordTypes {
		if !dnsRecordTypes[strings.ToLower(rt)] {
			return fmt.Errorf("dnsx record type %q is not supported", rt)
		}
	}
	return nil
}

func (a DNSXArgs) Values() []string { return append([]string(nil), a.RecordTypes...) }

func (a DNSXArgs) Command(target string) Command {
	argv := []string{"-silent", "-json", "-resp"}
	for _, rt := range a.RecordTypes {
		argv = append(argv, "-"+strings.ToLower(rt))
	}
	return Command{Argv: argv, Stdin: HostOf(target) + "\n"}
}

type KatanaArgs struct {
	Depth int `json:"depth,omitempty"`
}

func (KatanaArgs) Tool() ToolName { return ToolKatana }
func (KatanaArgs) isToolArgs()    {}

func (a KatanaArgs) Validate() error {
	if a.Depth < 0 || a.Depth > 5 {
		return errors.New("katana depth must be within 0..5")
	}
	return nil
}

func (KatanaArgs) Values() []string { return nil }

func (a KatanaArgs) Command(target string) Command {
	depth := a.Depth
	if depth == 0 {
		depth = 2
	}
	return Command{Argv: []string{"-u", URLOf(target), "-d", strconv.Itoa(depth), "-silent", "-jsonl"}}
}

type SQLMapArgs struct {
	Level     int    `json:"level,omitempty"`
	Risk      int    `json:"risk,omitempty"`
	Technique string `json:"technique,omitempty"`
}

func (SQLMapArgs) Tool() ToolName { return ToolSQLMap }
func (SQLMapArgs) isToolArgs()    {}

func (a SQLMapArgs) Validate() error {
	if a.Level < 0 || a.Level > 5 {
		return errors.New("sqlmap level must be within 0..5")
	}
	if a.Risk < 0 || a.Risk > 3 {
		return errors.New("sqlmap risk must be within 0..3")
	}
	for _, c := range a.Technique {
		if !strings.ContainsRune("BEUSTQ", c) {
			return fmt.Errorf("sqlmap technique %q is not supported", a.Technique)
		}
	}
	return nil
}

func (a SQLMapArgs) Values() []string { return []string{a.Technique} }

func (a SQLMapArgs) Command(target string) Command {
	argv := []string{"-u", URLOf(target), "--batch"}
	if a.Level > 0 {
		argv = append(argv, "--level", strconv.Itoa(a.Level))
	}
	if a.Risk > 0 {
		argv = append(argv, "--risk", strconv.Itoa(a.Risk))
	}
	if a.Technique != "" {
		argv = append(argv, "--technique", a.Technique)
	}
	return Command{Argv: argv}
}

var msfModulePattern = regexp.MustCompile(`^[a-z0-9_]+(/[a-z0-9_]+)+$`)

type MetasploitArgs struct {
	Module string `json:"module"`
}

func (MetasploitArgs) Tool() ToolName { return ToolMetasploit }
func (MetasploitArgs) isToolArgs()    {}

func (a MetasploitArgs) Validate() error {
	if !msfModulePattern.MatchString(a.Module) {
		return fmt.Errorf("metasploit module %q is malformed", a.Module)
	}
	return nil
}

func (a MetasploitArgs) Values() []string { return []string{a.Module} }

// Command renders the console script a human operator would run.
func (a MetasploitArgs) Command(target string) Command {
	return Command{Argv: []string{"-q", "-x", "use " + a.Module + "; set RHOSTS " + HostOf(target) + "; check; exit"}}
}
