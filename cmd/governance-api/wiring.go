package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/platform/auditlog"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/auth"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/metrics"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/objectstore"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/statuscache"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
	"github.com/ThewitchASarz/sucrityflash/internal/service/actions"
	"github.com/ThewitchASarz/sucrityflash/internal/service/evidence"
	"github.com/ThewitchASarz/sucrityflash/internal/service/execution"
	"github.com/ThewitchASarz/sucrityflash/internal/service/findings"
	"github.com/ThewitchASarz/sucrityflash/internal/service/manualtasks"
	"github.com/ThewitchASarz/sucrityflash/internal/service/policy"
	"github.com/ThewitchASarz/sucrityflash/internal/service/runs"
	"github.com/ThewitchASarz/sucrityflash/internal/service/scopes"
)

const serviceName = "governance-api"

type dependencies struct {
	Logger   *slog.Logger
	Store    repo.Store
	Objects  objectstore.EvidenceStore
	Engine   *policy.Engine
	Codec    token.Codec
	Cache    statuscache.Cache
	TokenTTL time.Duration
	Metrics  *metrics.Registry
	Now      func() time.Time
}

func buildServices(d dependencies) services {
	runOpts := []runs.Option{runs.WithCache(d.Cache), runs.WithLogger(d.Logger)}
	actionOpts := []actions.Option{actions.WithLogger(d.Logger), actions.WithTokenTTL(d.TokenTTL), actions.WithMetrics(d.Metrics)}
	if d.Now != nil {
		runOpts = append(runOpts, runs.WithClock(d.Now))
		actionOpts = append(actionOpts, actions.WithClock(d.Now))
	}

	ev := evidence.New(d.Store, d.Objects, d.Logger)
	svc := services{
		scopes:    scopes.New(d.Store, d.Codec),
		runs:      runs.New(d.Store, d.Engine.Version(), runOpts...),
		actions:   actions.New(d.Store, d.Engine, d.Codec, actionOpts...),
		evidence:  ev,
		execution: execution.New(d.Store, ev, d.Logger).WithMetrics(d.Metrics),
		manual:    manualtasks.New(d.Store, ev),
		findings:  findings.New(d.Store),
		metrics:   d.Metrics,
	}
	if d.Now != nil {
		svc.scopes.WithClock(d.Now)
		ev.WithClock(d.Now)
		svc.execution.WithClock(d.Now)
		svc.manual.WithClock(d.Now)
		svc.findings.WithClock(d.Now)
	}
	return svc
}

// denyAuditor writes rejected requests to the audit log.
func denyAuditor(store repo.Store) auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 750*time.Millisecond)
		defer cancel()
		_, err := store.Audit().Append(auditCtx, auditlog.AuthDenyEntry(serviceName, event))
		return err
	}
}
