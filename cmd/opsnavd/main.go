package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/robfig/cron/v3"

	"opsnav/internal/clone"
	"opsnav/internal/config"
	"opsnav/internal/httpapi"
	"opsnav/internal/logger"
	"opsnav/internal/power"
	"opsnav/internal/reconciler"
	"opsnav/internal/secrets"
	"opsnav/internal/store"
	"opsnav/internal/tasks"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", "", "API server address (overrides config file)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dbPath := flag.String("db", "", "Path to the SQLite inventory database")
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("opsnavd version %s\n", version)
		os.Exit(0)
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.FromFile(*configFile)
		if err != nil {
			pterm.Error.Printfln("failed to load config file: %v", err)
			os.Exit(1)
		}
		cfg = cfg.MergeWithEnv()
		pterm.Info.Printfln("loaded configuration from: %s", *configFile)
	} else {
		cfg = config.FromEnvironment()
	}

	if *addr != "" {
		cfg.AppHost, cfg.AppPort = splitAddr(*addr, cfg.AppHost, cfg.AppPort)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "opsnav.db"
	}
	if *dbPath != "" {
		cfg.DatabaseURL = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		pterm.Error.Printfln("invalid configuration: %v", err)
		os.Exit(1)
	}

	showBanner()
	log := logger.New(cfg.LogLevel)
	listenAddr := fmt.Sprintf("%s:%d", cfg.AppHost, cfg.AppPort)

	pterm.Info.Printfln("starting opsnavd v%s", version)
	pterm.Info.Printfln("inventory database: %s", cfg.DatabaseURL)
	pterm.Info.Printfln("api server will listen on: %s", listenAddr)

	secretStore, err := secrets.New(&secrets.Config{Backend: cfg.SecretBackend, Vault: vaultConfigFrom(cfg)})
	if err != nil {
		pterm.Error.Printfln("failed to init secret backend: %v", err)
		os.Exit(1)
	}
	if err := secretStore.Health(context.Background()); err != nil {
		pterm.Warning.Printfln("secret backend health check failed: %v", err)
	}
	if cfg.ESXIUsername != "" && cfg.ESXIPassword != "" {
		if err := secretStore.Set(context.Background(), &secrets.Secret{
			Name: "host:default", Type: secrets.SecretTypeHostPassword,
			Value: map[string]string{"username": cfg.ESXIUsername, "password": cfg.ESXIPassword},
		}); err != nil {
			pterm.Warning.Printfln("failed to seed default host credential: %v", err)
		}
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		pterm.Error.Printfln("failed to open database: %v", err)
		os.Exit(1)
	}
	pterm.Success.Println("database initialized")

	rec := reconciler.New(db, log, cfg.Insecure)
	tr := tasks.New(db)
	pc := power.New(db, rec, log, cfg.Insecure)
	co := clone.New(db, tr, rec, log, cfg.Insecure)

	server := httpapi.New(db, rec, tr, pc, co, secretStore, cfg.ESXIUsername, cfg.ESXIPassword, log, cfg.Insecure, cfg.CORSOrigins, listenAddr)

	var scheduler *cron.Cron
	if cfg.ReconcileSchedule != "" {
		pterm.Info.Printfln("scheduling full-fleet reconcile: %s", cfg.ReconcileSchedule)
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.ReconcileSchedule, func() {
			hosts, err := db.ListHosts()
			if err != nil {
				log.Warn("scheduled reconcile: list hosts failed", "error", err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			for _, h := range hosts {
				if _, err := rec.Reconcile(ctx, h); err != nil {
					log.Warn("scheduled reconcile failed", "host", h.Address, "error", err)
				}
			}
		})
		if err != nil {
			pterm.Error.Printfln("invalid reconcile_schedule: %v", err)
			os.Exit(1)
		}
		scheduler.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	pterm.Success.Println("daemon started successfully")
	showEndpoints(listenAddr)

	select {
	case sig := <-sigCh:
		pterm.Warning.Printfln("received signal: %v", sig)
		pterm.Info.Println("shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			pterm.Error.Printfln("server shutdown error: %v", err)
		}
		if scheduler != nil {
			pterm.Info.Println("stopping scheduler...")
			<-scheduler.Stop().Done()
		}
		if err := secretStore.Close(); err != nil {
			pterm.Error.Printfln("secret store close error: %v", err)
		}
		if err := db.Close(); err != nil {
			pterm.Error.Printfln("database close error: %v", err)
		}
		pterm.Success.Println("daemon stopped gracefully")

	case err := <-errCh:
		pterm.Error.Printfln("server error: %v", err)
		db.Close()
		os.Exit(1)
	}
}

func vaultConfigFrom(cfg *config.Config) *secrets.VaultConfig {
	if cfg.Vault == nil {
		return nil
	}
	return &secrets.VaultConfig{Address: cfg.Vault.Address, Token: cfg.Vault.Token, Mount: cfg.Vault.Mount}
}

// splitAddr parses a "host:port" override flag, falling back to the
// config-supplied host/port for whichever half is missing or malformed.
func splitAddr(addr, fallbackHost string, fallbackPort int) (string, int) {
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return fallbackHost, fallbackPort
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fallbackHost, fallbackPort
	}
	return host, port
}

func splitHostPort(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("missing port in address %q", addr)
}

func showBanner() {
	pterm.DefaultCenter.Println()

	orange := pterm.NewStyle(pterm.FgLightRed)
	amber := pterm.NewStyle(pterm.FgYellow)

	bigText, _ := pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("OPS", orange),
		pterm.NewLettersFromStringWithStyle("NAV", amber),
		pterm.NewLettersFromStringWithStyle("D", orange),
	).Srender()

	pterm.DefaultCenter.Println(bigText)
	pterm.Println(pterm.DefaultCenter.Sprint(pterm.LightYellow("ESXi Fleet Control Plane")))
	pterm.Println()
}

func showEndpoints(addr string) {
	baseURL := fmt.Sprintf("http://%s", addr)
	endpoints := [][]string{
		{"Endpoint", "Method", "Description"},
		{baseURL + "/health", "GET", "Health check"},
		{baseURL + "/virtualization/hosts", "GET/POST", "List/enroll hosts"},
		{baseURL + "/virtualization/vms", "GET", "List cached VM inventory"},
		{baseURL + "/virtualization/vms/{id}/power", "POST", "Power control"},
		{baseURL + "/virtualization/vms/{id}/clone", "POST", "Offline clone"},
		{baseURL + "/virtualization/vms/{id}/install-tools", "POST", "Install guest tools over SSH"},
		{baseURL + "/virtualization/sync", "POST", "Trigger inventory reconcile"},
		{baseURL + "/tasks", "GET", "Async task log"},
		{baseURL + "/credentials", "GET/POST", "Credential presets"},
	}

	pterm.DefaultSection.Println("Available API Endpoints")
	pterm.DefaultTable.
		WithHasHeader().
		WithHeaderRowSeparator("-").
		WithBoxed().
		WithData(endpoints).
		Render()
}
