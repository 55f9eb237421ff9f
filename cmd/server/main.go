package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openprocure/be-marketplace/internal/client"
	"github.com/openprocure/be-marketplace/internal/config"
	"github.com/openprocure/be-marketplace/internal/database"
	"github.com/openprocure/be-marketplace/internal/handler"
	"github.com/openprocure/be-marketplace/internal/logger"
	"github.com/openprocure/be-marketplace/internal/middleware"
	"github.com/openprocure/be-marketplace/internal/repository"
	"github.com/openprocure/be-marketplace/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Marketplace Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run database migrations
	if err := database.Migrate(cfg.Database); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	log.Info().Msg("Database migrations applied")

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize notification publisher
	notifier, err := client.NewNotificationPublisher(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer notifier.Close()

	// Initialize store and services
	store := repository.NewStore(db)
	opportunityService := service.NewOpportunityService(store, notifier, log)
	proposalService := service.NewProposalService(store, notifier, log)
	consensusService := service.NewConsensusService(store, notifier, log)
	scoringService := service.NewScoringService(store, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(opportunityService, proposalService, consensusService, scoringService, log)
	mux := http.NewServeMux()

	// Health check and metrics
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Opportunity routes
	mux.HandleFunc("/api/v1/opportunities", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListOpportunities(w, r)
		case http.MethodPost:
			httpHandler.CreateOpportunity(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/opportunities/get", httpHandler.GetOpportunity)
	mux.HandleFunc("/api/v1/opportunities/edit", httpHandler.EditOpportunity)
	mux.HandleFunc("/api/v1/opportunities/status", httpHandler.TransitionOpportunity)
	mux.HandleFunc("/api/v1/opportunities/history", httpHandler.OpportunityHistory)
	mux.HandleFunc("/api/v1/opportunities/note", httpHandler.AddOpportunityNote)
	mux.HandleFunc("/api/v1/opportunities/addendum", httpHandler.AddOpportunityAddendum)
	mux.HandleFunc("/api/v1/opportunities/delete", httpHandler.DeleteOpportunity)

	// Proposal routes
	mux.HandleFunc("/api/v1/proposals", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListProposals(w, r)
		case http.MethodPost:
			httpHandler.CreateProposal(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/proposals/get", httpHandler.GetProposal)
	mux.HandleFunc("/api/v1/proposals/history", httpHandler.ProposalHistory)
	mux.HandleFunc("/api/v1/proposals/submit", httpHandler.SubmitProposal)
	mux.HandleFunc("/api/v1/proposals/withdraw", httpHandler.WithdrawProposal)
	mux.HandleFunc("/api/v1/proposals/disqualify", httpHandler.DisqualifyProposal)
	mux.HandleFunc("/api/v1/proposals/award", httpHandler.AwardProposal)
	mux.HandleFunc("/api/v1/proposals/score", httpHandler.ScoreProposalStage)
	mux.HandleFunc("/api/v1/proposals/delete", httpHandler.DeleteProposal)

	// Evaluation routes
	mux.HandleFunc("/api/v1/evaluations/submit", httpHandler.SubmitEvaluation)
	mux.HandleFunc("/api/v1/evaluations/finalize", httpHandler.FinalizeConsensus)

	// Scoring routes
	mux.HandleFunc("/api/v1/scoring", httpHandler.OpportunityScoring)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

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

	// Graceful shutdown
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
}
