package main

import (
	"context"
	"fmt"

	"github.com/antinvestor/service-chama/config"
	"github.com/antinvestor/service-chama/service/business"
	"github.com/antinvestor/service-chama/service/daraja"
	"github.com/antinvestor/service-chama/service/events"
	"github.com/antinvestor/service-chama/service/repository"
	"github.com/pitabwire/frame"
	"github.com/sirupsen/logrus"
)

// runtime is a frame service with only the datastore wired. Audit entries are
// written directly because the CLI does not run the event queue.
type runtime struct {
	ctx     context.Context
	service *frame.Service
	cfg     config.ChamaConfig
	engine  *business.Engine
	log     *logrus.Entry
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := frame.ConfigFromEnv[config.ChamaConfig]()
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	ctx, service := frame.NewServiceWithContext(ctx, "chamactl", frame.WithConfig(&cfg))
	service.Init(ctx, frame.WithDatastore())

	engineConfig, err := cfg.EngineConfig()
	if err != nil {
		service.Stop(ctx)
		return nil, err
	}

	log := logrus.WithField("service", "chamactl")
	audit := &events.StoreAuditSink{Repo: repository.NewAuditLogRepository(ctx, service)}
	engine := business.NewEngine(ctx, service, daraja.New(cfg.DarajaOptions(), log), audit, engineConfig, log)

	return &runtime{ctx: ctx, service: service, cfg: cfg, engine: engine, log: log}, nil
}

func (rt *runtime) Close() {
	rt.service.Stop(rt.ctx)
}

func withRuntime(fn func(rt *runtime) error) error {
	rt, err := newRuntime(context.Background())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}
