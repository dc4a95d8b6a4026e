package main

import (
	"context"
	"fmt"

	"github.com/antinvestor/service-chama/config"
	"github.com/antinvestor/service-chama/service/business"
	"github.com/antinvestor/service-chama/service/daraja"
	"github.com/antinvestor/service-chama/service/events"
	"github.com/antinvestor/service-chama/service/handlers"
	"github.com/antinvestor/service-chama/service/models"
	"github.com/antinvestor/service-chama/service/router"
	"github.com/antinvestor/service-chama/service/worker"
	"github.com/pitabwire/frame"
	"github.com/sirupsen/logrus"
)

func main() {
	serviceName := "service_chama"
	ctx := context.Background()
	chamaConfig, err := frame.ConfigFromEnv[config.ChamaConfig]()
	if err != nil {
		fmt.Printf("could not load config: %v\n", err)
	}
	ctx, service := frame.NewServiceWithContext(ctx, serviceName, frame.WithConfig(&chamaConfig))
	defer service.Stop(ctx)

	logger := service.Log(ctx).WithField("type", "main")
	logger.Info("starting service...")

	serviceOptions := []frame.Option{frame.WithDatastore()}
	service.Init(ctx, serviceOptions...)

	if chamaConfig.DoDatabaseMigrate() {
		err = service.MigrateDatastore(ctx, chamaConfig.GetDatabaseMigrationPath(), models.AllModels()...)
		if err != nil {
			logger.WithError(err).Fatal("could not migrate successfully")
		}
		return
	}

	if err = chamaConfig.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if chamaConfig.MpesaTestMode {
		logger.Warn("MPESA_TEST_MODE is on: payments are simulated and settle without the gateway")
	}

	engineConfig, err := chamaConfig.EngineConfig()
	if err != nil {
		logger.WithError(err).Fatal("invalid engine configuration")
	}

	appLog := logrus.WithField("service", serviceName)
	gateway := daraja.New(chamaConfig.DarajaOptions(), appLog)
	engine := business.NewEngine(ctx, service, gateway, &events.EventAuditSink{Emitter: service}, engineConfig, appLog)

	chamaServer := handlers.NewChamaServer(engine, appLog)
	serviceOptions = append(serviceOptions,
		frame.WithHTTPHandler(router.NewRouter(chamaServer)),
		frame.WithRegisterEvents(
			&events.AuditLogSave{Service: service},
		))

	service.Init(ctx, serviceOptions...)

	sweeper := &worker.Sweeper{
		Engine:     engine,
		Interval:   chamaConfig.SweepInterval,
		PurgeEvery: 60,
		Log:        appLog,
	}
	go sweeper.Run(ctx)

	logger.WithField("server http port", chamaConfig.HTTPServerPort).
		WithField("test mode", chamaConfig.MpesaTestMode).
		Info("Initiating server operations")

	err = service.Run(ctx, ":8080")
	if err != nil {
		logger.WithError(err).Fatal("could not run Server")
	}
}
