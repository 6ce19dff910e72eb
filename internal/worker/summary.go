package worker

import (
	"bufio"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

// summarize extracts a short, structured digest of tool output. Unknown tools
// and unparseable output produce nil.
func summarize(tool domain.ToolName, stdout string) domain.Metadata {
	switch tool {
	case domain.ToolHTTPX:
		return summarizeHTTPX(stdout)
	case domain.ToolNmap:
		return summarizeNmap(stdout)
	case domain.ToolSubfinder, domain.ToolDNSX, domain.ToolKatana:
		n := countLines(stdout)
		if n == 0 {
			return nil
		}
		return domain.Metadata{"results": n}
	}
	return nil
}

func summarizeHTTPX(stdout string) domain.Metadata {
	var lines []map[string]any
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		var rec struct {
			URL        string `json:"url"`
			StatusCode int    `json:"status_code"`
			Title      string `json:"title"`
		}
		if json.Unmarshal([]byte(sc.Text()), &rec) != nil || rec.URL == "" {
			continue
		}
		entry := map[string]any{"url": rec.URL, "status_code": rec.StatusCode}
		if rec.Title != "" {
			entry["title"] = rec.Title
		}
		lines = append(lines, entry)
		if len(lines) == 20 {
			break
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return domain.Metadata{"responses": lines}
}

var nmapPortLine = regexp.MustCompile(`^(\d+)/(tcp|udp)\s+open\s+(\S+)(?:\s+(.*))?$`)

func summarizeNmap(stdout string) domain.Metadata {
	var ports []map[string]any
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		m := nmapPortLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		port, _ := strconv.Atoi(m[1])
		entry := map[string]any{"port": port, "protocol": m[2], "service": m[3]}
		if v := strings.TrimSpace(m[4]); v != "" {
			entry["version"] = v
		}
		ports = append(ports, entry)
	}
	if len(ports) == 0 {
		return nil
	}
	return domain.Metadata{"open_ports": ports}
}

func countLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
