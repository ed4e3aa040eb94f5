package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/facilityops/invoice-engine/internal/approval"
	"github.com/facilityops/invoice-engine/internal/audit"
	"github.com/facilityops/invoice-engine/internal/client"
	"github.com/facilityops/invoice-engine/internal/config"
	"github.com/facilityops/invoice-engine/internal/database"
	"github.com/facilityops/invoice-engine/internal/engine"
	"github.com/facilityops/invoice-engine/internal/handler"
	"github.com/facilityops/invoice-engine/internal/ledger"
	"github.com/facilityops/invoice-engine/internal/logger"
	"github.com/facilityops/invoice-engine/internal/match"
	"github.com/facilityops/invoice-engine/internal/middleware"
	"github.com/facilityops/invoice-engine/internal/validate"
)

func main() {
	root := &cobra.Command{
		Use:   "invoice-engine",
		Short: "Invoice extraction, validation and routing engine",
	}
	root.AddCommand(serveCmd(), validateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a long-lived service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting invoice engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agreements, err := ledger.LoadFeed(cfg.Ledger.FeedPath)
	if err != nil {
		return fmt.Errorf("load agreement feed: %w", err)
	}
	log.Info().Int("vendors", agreements.Len()).Str("path", cfg.Ledger.FeedPath).Msg("Agreement ledger loaded")

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	nc, err := client.NewNATSClient(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()
	log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")

	store := audit.NewPostgresStore(db)
	messenger := client.NewNATSMessenger(nc, cfg.NATS.OutboundSubject, log.Logger)
	notifier := client.NewNotificationPublisher(nc, cfg.NATS.EventPrefix, log.Logger)
	assisted := client.NewAssistedClient(client.AssistedConfig{
		APIURL:  cfg.Assisted.APIURL,
		APIKey:  cfg.Assisted.APIKey,
		Model:   cfg.Assisted.Model,
		Timeout: cfg.Assisted.Timeout,
	}, log.Logger)
	if assisted == nil {
		log.Warn().Msg("No assisted API configured; LLM fallbacks disabled")
	}

	var extractor client.TextExtractor = client.PlainTextExtractor{}
	if url := os.Getenv("EXTRACTOR_URL"); url != "" {
		extractor = client.NewHTTPExtractor(url)
	}

	eng := engine.New(engine.Config{
		Agreements:      agreements,
		Matcher:         match.NewMatcher(agreements, assistedOrNil(assisted), log),
		DateValidator:   validate.NewDateValidator(extractorOrNil(assisted), log),
		RateValidator:   validate.NewRateValidator(extractorOrNil(assisted), log),
		Store:           store,
		Extractor:       extractor,
		Messenger:       messenger,
		Notifier:        notifier,
		DocumentTimeout: cfg.Engine.DocumentTimeout,
	}, log)

	stateMachine := approval.NewStateMachine(store, agreements, messenger, notifier, log)

	// Inbound decision replies arrive over NATS from the messenger service.
	sub, err := nc.Subscribe(cfg.NATS.InboundSubject, func(data []byte) {
		var msg struct {
			Subject string `json:"subject"`
			Body    string `json:"body"`
			Sender  string `json:"sender"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("Unparseable inbound reply dropped")
			return
		}
		replyCtx, replyCancel := context.WithTimeout(ctx, 30*time.Second)
		defer replyCancel()
		if _, err := stateMachine.HandleReply(replyCtx, approval.Message{
			Subject:       msg.Subject,
			RawBody:       msg.Body,
			SenderAddress: msg.Sender,
		}); err != nil {
			log.Warn().Err(err).Msg("Inbound reply not applied")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to inbound replies: %w", err)
	}
	defer sub.Unsubscribe()
	log.Info().Str("subject", cfg.NATS.InboundSubject).Msg("Listening for decision replies")

	// Optional reminder sweep for stale pending decisions.
	var scheduler *cron.Cron
	if cfg.Approvals.ReminderSchedule != "" {
		sweeper := approval.NewSweeper(store, messenger, notifier, cfg.Approvals.ReminderAfter, log)
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(cfg.Approvals.ReminderSchedule, func() {
			sweepCtx, sweepCancel := context.WithTimeout(ctx, 5*time.Minute)
			defer sweepCancel()
			sweeper.Run(sweepCtx)
		}); err != nil {
			return fmt.Errorf("invalid reminder schedule %q: %w", cfg.Approvals.ReminderSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Info().Str("schedule", cfg.Approvals.ReminderSchedule).Msg("Reminder sweep scheduled")
	}

	httpHandler := handler.NewHTTPHandler(eng, store, stateMachine, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.Health)
	mux.HandleFunc("/api/v1/documents/validate", httpHandler.ValidateDocument)
	mux.HandleFunc("/api/v1/records/get", httpHandler.GetRecord)
	mux.HandleFunc("/api/v1/records/audit", httpHandler.GetAuditTrail)
	mux.HandleFunc("/api/v1/replies", httpHandler.SubmitReply)

	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Engine.DocumentTimeout + 30*time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
	return nil
}

// assistedOrNil keeps a typed nil from reaching interface fields.
func assistedOrNil(c *client.AssistedClient) match.AssistedVendorMatcher {
	if c == nil {
		return nil
	}
	return c
}

func extractorOrNil(c *client.AssistedClient) validate.AssistedExtractor {
	if c == nil {
		return nil
	}
	return c
}

// ── validate ──────────────────────────────────────────────────────────────────

func validateCmd() *cobra.Command {
	var feedPath string
	var sourceActor string

	cmd := &cobra.Command{
		Use:   "validate [files...]",
		Short: "Validate invoice documents once and print the outcome",
		Long: "Runs the validation pipeline against local files using an in-memory audit store.\n" +
			"No database, NATS or outbound email is involved; routed correspondence is printed.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(feedPath, sourceActor, args)
		},
	}
	cmd.Flags().StringVar(&feedPath, "ledger", "service_agreements.json", "path to the agreement feed")
	cmd.Flags().StringVar(&sourceActor, "source", "", "submitter address recorded on each document")
	return cmd
}

func validateFiles(feedPath, sourceActor string, paths []string) error {
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: "local",
		ServiceName: "invoice-engine",
		Version:     "dev",
	})

	agreements, err := ledger.LoadFeed(feedPath)
	if err != nil {
		return fmt.Errorf("load agreement feed: %w", err)
	}

	store := audit.NewMemoryStore()
	messenger := &printMessenger{}
	eng := engine.New(engine.Config{
		Agreements:    agreements,
		Matcher:       match.NewMatcher(agreements, nil, log),
		DateValidator: validate.NewDateValidator(nil, log),
		RateValidator: validate.NewRateValidator(nil, log),
		Store:         store,
		Extractor:     client.PlainTextExtractor{},
		Messenger:     messenger,
		Notifier:      nil,
	}, log)

	docs := make([]engine.Document, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, engine.Document{
			Filename:    filepath.Base(path),
			Content:     content,
			SourceActor: sourceActor,
		})
	}

	records := eng.ProcessBatch(context.Background(), docs)

	passed, partial, failed := 0, 0, 0
	for _, rec := range records {
		switch rec.OverallStatus {
		case "passed":
			passed++
		case "partial":
			partial++
		default:
			failed++
		}
		vendor := "no match"
		if rec.VendorMatch.Name != nil {
			vendor = *rec.VendorMatch.Name
		}
		fmt.Printf("\n%s  [%s]\n", rec.Filename, rec.ReferenceID)
		fmt.Printf("  vendor: %s\n", vendor)
		fmt.Print(rec.Summary())
		fmt.Printf("  routed to: %s (%s)\n", rec.Routing.ContactName, rec.Routing.ContactRole)
	}

	fmt.Printf("\n%d documents: %d passed, %d partial, %d failed\n",
		len(docs), passed, partial, failed)
	return nil
}

// printMessenger renders outbound correspondence to stdout instead of sending.
type printMessenger struct{}

func (printMessenger) SendEmail(ctx context.Context, msg client.OutboundEmail) error {
	fmt.Printf("\n--- email to %s ---\nSubject: %s\n%s\n", msg.To, msg.Subject, msg.Body)
	return nil
}
