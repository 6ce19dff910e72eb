package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

const maxArgumentBytes = 1000

const shellMetacharacters = ";|&<>$`\\()[]{}"

// checkArgument enforces the string level safety rules shared by every tool.
func checkArgument(arg string) error {
	if len(arg) > maxArgumentBytes {
		return fmt.Errorf("argument exceeds %d bytes", maxArgumentBytes)
	}
	if i := strings.IndexAny(arg, shellMetacharacters); i >= 0 {
		return fmt.Errorf("argument %q contains shell metacharacter %q", arg, arg[i])
	}
	if strings.Contains(arg, "..") {
		return fmt.Errorf("argument %q contains path traversal", arg)
	}
	if strings.HasPrefix(arg, "/") || strings.HasSuffix(arg, "/") {
		return fmt.Errorf("argument %q has a leading or trailing slash", arg)
	}
	return nil
}

// checkArguments walks the raw argument document so strings the typed schema
// would ignore are still screened, then validates the typed variant.
func checkArguments(inv domain.ToolInvocation) error {
	raw, err := inv.RawArguments()
	if err != nil {
		return err
	}
	var doc any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("arguments are not valid json: %w", err)
		}
	}
	if doc != nil {
		obj, ok := doc.(map[string]any)
		if !ok {
			return fmt.Errorf("arguments must be an object")
		}
		for key, v := range obj {
			if err := checkValue(key, v); err != nil {
				return err
			}
		}
	}
	if err := inv.Validate(); err != nil {
		return err
	}
	for _, v := range inv.Args.Values() {
		if err := checkArgument(v); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(key string, v any) error {
	switch val := v.(type) {
	case string:
		return checkArgument(val)
	case bool, float64, nil:
		return nil
	case []any:
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("argument %s must contain only strings", key)
			}
			if err := checkArgument(s); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("argument %s must be a plain value", key)
	}
}
