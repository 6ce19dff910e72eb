package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

const defaultRateLimit = 10

// ToolPolicy is the governance view of one tool.
type ToolPolicy struct {
	Name       domain.ToolName
	Class      domain.ToolClass
	RateLimit  int
	ManualOnly bool
}

// Catalog holds the tools the engine knows. Anything else fails closed.
type Catalog struct {
	tools            map[domain.ToolName]ToolPolicy
	defaultRateLimit int
}

var builtinRateLimits = map[domain.ToolName]int{
	domain.ToolHTTPX: 20,
	domain.ToolNmap:  10,
}

func DefaultCatalog() *Catalog {
	c := &Catalog{tools: map[domain.ToolName]ToolPolicy{}, defaultRateLimit: defaultRateLimit}
	for _, name := range domain.KnownTools() {
		info, _ := domain.LookupTool(name)
		limit, ok := builtinRateLimits[name]
		if !ok {
			limit = defaultRateLimit
		}
		c.tools[name] = ToolPolicy{Name: name, Class: info.Class, RateLimit: limit, ManualOnly: info.ManualOnly}
	}
	return c
}

func (c *Catalog) Lookup(name domain.ToolName) (ToolPolicy, bool) {
	if c == nil {
		return ToolPolicy{}, false
	}
	p, ok := c.tools[domain.ToolName(strings.ToLower(strings.TrimSpace(string(name))))]
	return p, ok
}

func (c *Catalog) RateLimit(name domain.ToolName) int {
	if p, ok := c.Lookup(name); ok && p.RateLimit > 0 {
		return p.RateLimit
	}
	return c.defaultRateLimit
}

type catalogFile struct {
	DefaultRateLimit int                `yaml:"default_rate_limit"`
	Tools            []catalogFileEntry `yaml:"tools"`
}

type catalogFileEntry struct {
	Name       string `yaml:"name"`
	RateLimit  int    `yaml:"rate_limit"`
	ManualOnly *bool  `yaml:"manual_only"`
	Disabled   bool   `yaml:"disabled"`
}

// ParseCatalog overlays a YAML document on the built-in catalog.
// Entries may tune rate limits, force manual handling or disable a tool.
// Exploitation tools always stay manual only.
func ParseCatalog(doc []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(doc, &file); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	c := DefaultCatalog()
	if file.DefaultRateLimit < 0 {
		return nil, fmt.Errorf("default_rate_limit must be >= 0")
	}
	if file.DefaultRateLimit > 0 {
		c.defaultRateLimit = file.DefaultRateLimit
	}
	for _, entry := range file.Tools {
		name := domain.ToolName(strings.ToLower(strings.TrimSpace(entry.Name)))
		p, ok := c.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool catalog: %w: %q", domain.ErrUnknownTool, entry.Name)
		}
		if entry.Disabled {
			delete(c.tools, name)
			continue
		}
		if entry.RateLimit < 0 {
			return nil, fmt.Errorf("tool catalog: %s rate_limit must be >= 0", name)
		}
		if entry.RateLimit > 0 {
			p.RateLimit = entry.RateLimit
		}
		if entry.ManualOnly != nil {
			p.ManualOnly = *entry.ManualOnly || p.Class == domain.ClassExploitation
		}
		c.tools[name] = p
	}
	return c, nil
}

// LoadCatalog reads path, or returns the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool catalog: %w", err)
	}
	return ParseCatalog(doc)
}
