package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attestproof/attestd/pkg/attestation"
	"github.com/attestproof/attestd/pkg/batch"
	"github.com/attestproof/attestd/pkg/config"
	"github.com/attestproof/attestd/pkg/crypto/envelope"
	"github.com/attestproof/attestd/pkg/crypto/signer"
	"github.com/attestproof/attestd/pkg/database"
	"github.com/attestproof/attestd/pkg/ledger"
	"github.com/attestproof/attestd/pkg/ratelimit"
	"github.com/attestproof/attestd/pkg/server"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting attestation service")

	settingsPath := flag.String("settings", "", "path to settings YAML (overrides SETTINGS_PATH env var)")
	showHelp := flag.Bool("help", false, "show help message")
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *settingsPath != "" {
		cfg.SettingsPath = *settingsPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	if err := settings.Validate(); err != nil {
		log.Fatalf("invalid settings: %v", err)
	}

	dbClient, err := database.NewClient(cfg, database.WithLogger(
		log.New(log.Writer(), "[Database] ", log.LstdFlags),
	))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	log.Println("connected to database")

	repos := dbClient.Repositories()

	var sig *signer.Signer
	if cfg.SigningKeyHex != "" {
		sig, err = signer.New(cfg.SigningKeyHex)
		if err != nil {
			log.Printf("WARNING: invalid SIGNING_KEY, attestation issuance disabled: %v", err)
			sig = nil
		} else {
			log.Printf("signer ready, address=%s", sig.Address())
		}
	} else {
		log.Println("WARNING: SIGNING_KEY not set, attestation issuance disabled")
	}

	var cipher *envelope.Cipher
	if cfg.EncryptionKeyHex != "" {
		cipher, err = envelope.New(cfg.EncryptionKeyHex)
		if err != nil {
			log.Printf("WARNING: invalid ENCRYPTION_KEY, attestation issuance disabled: %v", err)
			cipher = nil
		}
	} else {
		log.Println("WARNING: ENCRYPTION_KEY not set, attestation issuance disabled")
	}

	ledgerClient, err := ledger.New(ledger.Config{
		RPCURL:         cfg.LedgerRPCURL,
		ContractAddr:   cfg.LedgerContractAddr,
		DeployerKeyHex: cfg.LedgerDeployerKeyHex,
		ChainID:        cfg.LedgerChainID,
		GasLimit:       ledger.DefaultGasLimit,
	})
	if err != nil {
		log.Fatalf("failed to initialize ledger client: %v", err)
	}
	if ledgerClient.Configured() {
		log.Println("external ledger anchoring enabled")
	} else {
		log.Println("external ledger anchoring disabled, LEDGER_RPC_URL not set")
	}

	metrics := server.NewMetrics()

	costs := batch.NewCostTracker(nil)

	limiter := ratelimit.NewRegistry(cfg.RateLimitRequestsPerSecond, cfg.RateLimitBurst)
	peerLimiter := ratelimit.NewRegistry(cfg.RateLimitRequestsPerSecond, cfg.RateLimitBurst)

	var coordinator *attestation.Coordinator
	if sig != nil && cipher != nil {
		coordinator, err = attestation.NewCoordinator(&attestation.Config{
			Repos:           repos,
			Signer:          sig,
			Cipher:          cipher,
			Costs:           costs,
			RateLimiter:     limiter,
			PeerRateLimiter: peerLimiter,
			Logger:          log.New(log.Writer(), "[Attestation] ", log.LstdFlags),
		})
		if err != nil {
			log.Fatalf("failed to initialize attestation coordinator: %v", err)
		}
	}

	scheduler, err := batch.NewScheduler(repos, ledgerClient, &batch.SchedulerConfig{
		Interval:      settings.Batch.Interval.Duration(),
		MaxLeaves:     settings.Batch.MaxLeaves,
		MinLeaves:     settings.Batch.MinLeaves,
		CycleDeadline: 30 * time.Second,
		Costs:         costs,
		Metrics:       metrics,
		Logger:        log.New(log.Writer(), "[BatchScheduler] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("failed to initialize batch scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if settings.Batch.AnchorBatch {
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("failed to start batch scheduler: %v", err)
		}
	} else {
		log.Println("batch anchoring disabled in settings, scheduler not started")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.NewHealthHandlers(dbClient).HandleHealth)
	if settings.Metrics.Enabled {
		mux.Handle(settings.Metrics.Path, metrics.Handler())
	}
	if coordinator != nil {
		attestationHandlers := server.NewAttestationHandlers(coordinator, repos, metrics,
			log.New(log.Writer(), "[AttestationAPI] ", log.LstdFlags))
		mux.HandleFunc("/issue", attestationHandlers.HandleIssue)
		mux.HandleFunc("/verify/", attestationHandlers.HandleVerify)
	} else {
		log.Println("issuance endpoint disabled, signer or cipher not configured")
	}

	ruleHandlers := server.NewRuleHandlers(repos, log.New(log.Writer(), "[RuleAPI] ", log.LstdFlags))
	mux.HandleFunc("/rules", ruleHandlers.HandleRules)
	mux.HandleFunc("/rules/", ruleHandlers.HandleRule)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  settings.Server.ReadTimeout.Duration(),
		WriteTimeout: settings.Server.WriteTimeout.Duration(),
		IdleTimeout:  settings.Server.IdleTimeout.Duration(),
	}

	go func() {
		log.Printf("attestation API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down attestation service")
	cancel()

	if err := scheduler.Stop(); err != nil {
		log.Printf("batch scheduler stop error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("attestation service stopped")
}
