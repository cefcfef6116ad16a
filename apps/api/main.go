package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	echoapi "github.com/tabiasoft/orodha/apps/api/echo"
	"github.com/tabiasoft/orodha/core"
	"github.com/tabiasoft/orodha/core/importer"
	"github.com/tabiasoft/orodha/core/learner"
	"github.com/tabiasoft/orodha/core/webhook"
	logsvc "github.com/tabiasoft/orodha/services/logger"
	notifysvc "github.com/tabiasoft/orodha/services/notify"
	sheetsvc "github.com/tabiasoft/orodha/services/spreadsheet"
	"github.com/tabiasoft/orodha/storage/database"
	inmemdb "github.com/tabiasoft/orodha/storage/database/inmem"
	sqlxrepos "github.com/tabiasoft/orodha/storage/database/sqlx"
)

func main() {
	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	std := log.New(os.Stdout, "ORODHA : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	var logger core.Logger
	if conf.Debug || conf.RollbarToken == "" {
		logger = logsvc.NewStdLogger(std, conf)
	} else {
		rollbarLogger := logsvc.NewRollbarLogger(std, conf)
		rollbarLogger.Enable(true)
		logger = rollbarLogger
	}

	if err := run(conf, logger); err != nil {
		logger.Fatal(fmt.Sprintf("service error: %v", err), err)
	}
}

func run(conf *core.Config, logger core.Logger) error {
	// =========================================================================
	// Set up Dependencies

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	var repo learner.Repository
	if conf.Database.User != "" {
		db, err := database.Open(conf)
		if err != nil {
			return errors.Wrap(err, "opening database")
		}
		defer func() { _ = db.Close() }()
		if err := database.Migrate(db.DB); err != nil {
			return err
		}
		repo = sqlxrepos.NewLearnerRepository(db)
	} else {
		logger.Warn("dbUser not set; applied changes are kept in memory only")
		repo = inmemdb.NewLearnerRepository()
	}

	var notifier core.Notifier
	if conf.Debug || conf.NotifyEmail == "" {
		notifier = notifysvc.NewConsoleService(conf)
	} else {
		notifier = notifysvc.NewSendgridService(conf, logger)
	}

	var dispatcher importer.Dispatcher
	if conf.Webhook.URL != "" {
		d, err := webhook.NewDispatcher(conf, logger)
		if err != nil {
			return errors.Wrap(err, "configuring dispatcher")
		}
		dispatcher = d
	} else {
		logger.Warn("webhookUrl not set; inferred events will not be delivered")
		dispatcher = noopDispatcher{}
	}

	parser := sheetsvc.NewService(conf, logger)
	differ := learner.NewDiffer()
	auth := importer.NewStaticAuthorizer(conf, logger)

	// =========================================================================
	// Start File Monitor

	monitor := importer.NewMonitor(conf, parser, differ, repo, dispatcher, auth, notifier, logger)
	if err := monitor.Start(); err != nil {
		return errors.Wrap(err, "starting file monitor")
	}
	defer monitor.Stop()

	// =========================================================================
	// Start API Service

	// inbound events converge on the same persistence path as local passes
	listener := func(evt learner.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
		defer cancel()
		change := learner.Change{Type: evt.Type, Record: evt.Record}
		if err := repo.ApplyChanges(ctx, []learner.Change{change}); err != nil {
			logger.Error(fmt.Sprintf("applying inbound %s for %s", evt.Type, evt.AdmissionNo), err)
		}
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Conf:        conf,
		Logger:      logger,
		Listener:    listener,
		HealthCheck: monitor.Err,
		Shutdown:    func() { shutdown <- syscall.SIGTERM },
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return errors.Wrap(err, "server error")

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			return errors.Wrap(err, "could not stop server gracefully")
		}
	}
	return nil
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(learner.Event) {}
