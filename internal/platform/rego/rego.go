// Package rego evaluates optional operator supplied Rego rules against action proposals.
//
// A module declares package securityflash and may define:
//
//	deny contains reason if { ... }   # rejects the proposal with UNSAFE_ARGUMENT
//	manual_only if { ... }            # routes the proposal to a human operator
package rego

import (
	"context"
	"fmt"
	"os"
	"sort"

	opa "github.com/open-policy-agent/opa/v1/rego"
)

const query = "data.securityflash"

type Result struct {
	Deny       []string
	ManualOnly bool
}

type Rules struct {
	query opa.PreparedEvalQuery
}

// Compile prepares module for evaluation. name is used in compiler errors.
func Compile(ctx context.Context, name, module string) (*Rules, error) {
	r := opa.New(
		opa.Query(query),
		opa.Module(name, module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego: %w", err)
	}
	return &Rules{query: prepared}, nil
}

// Load compiles the module at path. An empty path returns nil rules.
func Load(ctx context.Context, path string) (*Rules, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rego module: %w", err)
	}
	return Compile(ctx, path, string(b))
}

func (r *Rules) Evaluate(ctx context.Context, input map[string]any) (Result, error) {
	if r == nil {
		return Result{}, nil
	}
	results, err := r.query.Eval(ctx, opa.EvalInput(input))
	if err != nil {
		return Result{}, fmt.Errorf("evaluate rego: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Result{}, nil
	}
	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("rego package evaluated to %T", results[0].Expressions[0].Value)
	}

	var out Result
	switch deny := doc["deny"].(type) {
	case nil:
	case []any:
		for _, v := range deny {
			out.Deny = append(out.Deny, fmt.Sprint(v))
		}
	default:
		return Result{}, fmt.Errorf("rego deny must be a set, got %T", deny)
	}
	sort.Strings(out.Deny)
	if v, ok := doc["manual_only"].(bool); ok {
		out.ManualOnly = v
	}
	return out, nil
}
