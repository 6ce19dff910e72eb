package worker

import (
	"errors"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
)

// Verify decides whether item may run on this worker. It never trusts the
// API's view of the action: the token must verify locally and bind the hash
// recomputed from the payload actually received.
func Verify(v token.Verifier, item domain.WorkItem, now time.Time) (ToolSpec, error) {
	action := item.Action
	if action.ManualOnly {
		return ToolSpec{}, domain.NewError(domain.CodeManualOnlyRefused, "action %s is manual only", action.ID)
	}
	if info, ok := domain.LookupTool(action.Tool()); ok && info.ManualOnly {
		return ToolSpec{}, domain.NewError(domain.CodeManualOnlyRefused, "tool %s is manual only", action.Tool())
	}
	if item.Token == "" {
		return ToolSpec{}, domain.NewError(domain.CodeTokenInvalid, "action %s has no execution token", action.ID)
	}
	claims, err := v.Verify(item.Token, now)
	if errors.Is(err, token.ErrTokenExpired) {
		return ToolSpec{}, domain.WrapError(domain.CodeTokenInvalid, err, "execution token expired")
	}
	if err != nil {
		return ToolSpec{}, domain.WrapError(domain.CodeTokenInvalid, err, "execution token signature is invalid")
	}
	if claims.ActionID != action.ID || claims.RunID != action.RunID {
		return ToolSpec{}, domain.NewError(domain.CodeTokenInvalid, "execution token was issued for another action")
	}
	spec, ok := LookupToolSpec(action.Tool())
	if !ok {
		return ToolSpec{}, domain.NewError(domain.CodeTokenInvalid, "tool %q is not allowed on this worker", action.Tool())
	}
	if action.Invocation.Args == nil {
		return ToolSpec{}, domain.NewError(domain.CodeTokenInvalid, "arguments for %s could not be parsed", action.Tool())
	}
	if err := action.Invocation.Validate(); err != nil {
		return ToolSpec{}, domain.WrapError(domain.CodeTokenInvalid, err, "arguments are invalid")
	}
	hash, err := action.ComputeHash()
	if err != nil {
		return ToolSpec{}, domain.WrapError(domain.CodeTokenInvalid, err, "payload hash could not be computed")
	}
	if hash != claims.ContentHash {
		return ToolSpec{}, domain.NewError(domain.CodeTokenInvalid, "payload hash does not match the execution token")
	}
	if err := domain.CheckTarget(action.Target); err != nil {
		return ToolSpec{}, domain.WrapError(domain.CodeTokenInvalid, err, "target is not safe to pass to "+string(action.Tool()))
	}
	if err := checkArguments(action.Invocation); err != nil {
		return ToolSpec{}, err
	}
	return spec, nil
}
