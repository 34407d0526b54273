package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bunkerm/mqadmin/pkg/admin"
	"github.com/bunkerm/mqadmin/pkg/audit"
	"github.com/bunkerm/mqadmin/pkg/auth"
	"github.com/bunkerm/mqadmin/pkg/broker"
	"github.com/bunkerm/mqadmin/pkg/brokerconf"
	"github.com/bunkerm/mqadmin/pkg/brokerlog"
	"github.com/bunkerm/mqadmin/pkg/config"
	"github.com/bunkerm/mqadmin/pkg/dynsec"
	"github.com/bunkerm/mqadmin/pkg/logging"
	"github.com/bunkerm/mqadmin/pkg/ratelimit"
	"github.com/bunkerm/mqadmin/pkg/stats"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management backend",
	Long: `Run the management backend: connect to the broker, collect statistics,
and serve the REST API until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	aggregator := stats.NewAggregator(store, logging.ForComponent(log, "stats"), stats.AggregatorOptions{
		SnapshotTimeout: cfg.Storage.SnapshotTimeout.Std(),
		CacheTTL:        cfg.Storage.CacheTTL.Std(),
		BrokerAddr:      fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
	})
	go aggregator.Run(ctx)

	subscriber := broker.NewSubscriber(broker.Config{
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
		ClientID: cfg.Broker.ClientID,
	}, aggregator, logging.ForComponent(log, "broker"))
	if err := subscriber.Start(ctx); err != nil {
		// The broker may simply not be up yet; the API stays useful and the
		// snapshot reports the connection state.
		log.Warn("broker connection failed, continuing without telemetry", "error", err)
	}
	defer subscriber.Stop()

	blog := logging.ForComponent(log, "brokerlog")
	clientLog := brokerlog.NewMonitor(blog)
	if cfg.Files.MosquittoLog != "" {
		follower := brokerlog.NewFollower(cfg.Files.MosquittoLog, clientLog, blog)
		go func() {
			if err := follower.Run(ctx); err != nil && ctx.Err() == nil {
				blog.Warn("broker log tailing stopped", "error", err)
			}
		}()
	}

	auditLog, err := audit.NewLogger(cfg.Log.AuditOutput)
	if err != nil {
		return err
	}

	server, err := buildServer(cfg, log, aggregator, clientLog, auditLog)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	return server.Stop()
}

func openStore(cfg config.Config, log *slog.Logger) (stats.Store, error) {
	opts := stats.StoreOptions{RetentionDays: cfg.Storage.RetentionDays}
	switch cfg.Storage.Backend {
	case "file":
		return stats.OpenFile(cfg.Storage.Path, log, opts)
	default:
		return stats.OpenSQLite(cfg.Storage.Path, log, opts)
	}
}

func buildServer(cfg config.Config, log *slog.Logger, aggregator *stats.Aggregator, clientLog *brokerlog.Monitor, auditLog audit.Logger) (*admin.Server, error) {
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)

	ctrl := dynsec.NewCtrlRunner(dynsec.CtrlConfig{
		Binary:        cfg.Dynsec.Binary,
		AdminUsername: cfg.Dynsec.AdminUsername,
		AdminPassword: cfg.Dynsec.AdminPassword,
		Timeout:       cfg.Dynsec.Timeout.Std(),
	}, log)

	confManager, err := brokerconf.NewConfManager(cfg.Files.MosquittoConf, cfg.Files.ConfBackupDir, log)
	if err != nil {
		return nil, err
	}
	dynsecStore, err := brokerconf.NewDynsecStore(cfg.Files.DynsecJSON, cfg.Files.DynsecBackupDir, log)
	if err != nil {
		return nil, err
	}
	passwdImporter, err := brokerconf.NewPasswdImporter(cfg.Files.PasswdFile, cfg.Files.PasswdBackupDir, dynsecStore, log)
	if err != nil {
		return nil, err
	}

	opts := []admin.Option{
		admin.WithLogger(logging.ForComponent(log, "api")),
		admin.WithVersion(Version),
		admin.WithAuth(auth.NewMiddleware(verifier, log)),
		admin.WithStats(aggregator),
		admin.WithDynsec(dynsec.NewService(ctrl, log)),
		admin.WithConfManager(confManager),
		admin.WithDynsecStore(dynsecStore),
		admin.WithPasswdImporter(passwdImporter),
		admin.WithClientLog(clientLog),
		admin.WithAuditLogger(auditLog),
		admin.WithCORS(cfg.Server.CORSOrigins),
	}
	if cfg.Server.RateLimitPerMinute >= 0 {
		opts = append(opts, admin.WithRateLimiter(ratelimit.New(ratelimit.Config{
			PerMinute:         cfg.Server.RateLimitPerMinute,
			TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		})))
	}

	return admin.New(cfg.Server.Listen, opts...), nil
}
