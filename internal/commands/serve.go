package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/davekale/bankledger/internal/handler"
	"github.com/davekale/bankledger/internal/ledger"
	"github.com/davekale/bankledger/internal/repository"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	config := loadConfig()

	store, cleanup, err := buildStore(config, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := ledger.NewEngine(store, logger)

	// Stream committed-mutation events into the log; UI or reporting
	// consumers subscribe the same way.
	events, unsubscribe := engine.Events().Subscribe(64)
	defer unsubscribe()
	go func() {
		for ev := range events {
			switch ev.Kind {
			case ledger.EventAccountChanged:
				logger.Info("ledger event",
					"kind", string(ev.Kind),
					"account_id", ev.Account.ID,
					"balance", ev.Account.Balance.String(),
					"status", string(ev.Account.Status),
				)
			case ledger.EventTransactionPosted:
				logger.Info("ledger event",
					"kind", string(ev.Kind),
					"transaction_id", ev.Transaction.ID,
					"account_id", ev.Transaction.AccountID,
					"reference", ev.Transaction.ReferenceNumber,
				)
			}
		}
	}()

	userHandler := handler.NewUserHandler(engine, logger)
	accountHandler := handler.NewAccountHandler(engine, logger)
	transactionHandler := handler.NewTransactionHandler(engine, logger)

	router := mux.NewRouter()
	router.Use(handler.RequestLogger(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	userHandler.RegisterRoutes(router)

	// Everything account-scoped requires a resolved actor.
	authed := router.NewRoute().Subrouter()
	authed.Use(handler.ActorMiddleware(engine, logger))
	accountHandler.RegisterRoutes(authed)
	transactionHandler.RegisterRoutes(authed)

	server := &http.Server{
		Addr:         ":" + config.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server on port " + config.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err.Error())
	}

	logger.Info("server exited gracefully")
	return nil
}

func buildStore(config Config, logger *slog.Logger) (repository.Store, func(), error) {
	switch config.StoreDriver {
	case "memory":
		logger.Info("using in-memory store")
		return repository.NewMemoryStore(), func() {}, nil
	case "postgres":
		db, err := connectDB(config)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to database successfully")
		return repository.NewPostgresStore(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", config.StoreDriver)
	}
}
