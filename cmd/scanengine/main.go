// Command scanengine is the scan core binary. It loads the three settings
// files (general, memory, scan), attaches the platform memory provider,
// starts the freeze writer and the gRPC scan-event stream, exposes the
// read-only REST query API plus /healthz and /metrics, and shuts down
// gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/scanforge/core/internal/command"
	"github.com/scanforge/core/internal/eventstream"
	"github.com/scanforge/core/internal/freeze"
	"github.com/scanforge/core/internal/history"
	"github.com/scanforge/core/internal/memory"
	"github.com/scanforge/core/internal/metrics"
	"github.com/scanforge/core/internal/restapi"
	"github.com/scanforge/core/internal/scanner"
	"github.com/scanforge/core/internal/settings"
	"github.com/scanforge/core/internal/store"
)

func main() {
	settingsDir := flag.String("settings-dir", "/etc/scanforge", "directory holding general.yaml, memory.yaml and scan.yaml")
	httpAddr := flag.String("http-addr", ":8080", "listen address for the REST API, /healthz and /metrics")
	grpcAddr := flag.String("grpc-addr", ":9090", "listen address for the scan-event gRPC stream")
	freezeDB := flag.String("freeze-db", "", "path to the SQLite freeze-list database (empty keeps the list in-memory)")
	freezeInterval := flag.Duration("freeze-interval", 250*time.Millisecond, "interval between freeze reassertion sweeps")
	historyPath := flag.String("history-path", "", "path to the scan-provenance journal (empty disables it)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string for the scan-session ledger (empty disables it)")
	jwtPubKeyPath := flag.String("jwt-public-key", "", "path to a PEM-encoded RSA public key for REST bearer auth (empty disables auth)")
	flag.Parse()

	general, err := settings.LoadGeneral(filepath.Join(*settingsDir, "general.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanengine: %v\n", err)
		os.Exit(1)
	}
	memSettings, err := settings.LoadMemory(filepath.Join(*settingsDir, "memory.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanengine: %v\n", err)
		os.Exit(1)
	}
	scanSettings, err := settings.LoadScan(filepath.Join(*settingsDir, "scan.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanengine: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(general.LogLevel)
	slog.SetDefault(logger)

	logger.Info("settings loaded",
		slog.String("settings_dir", *settingsDir),
		slog.String("log_level", general.LogLevel),
		slog.Int("default_alignment", memSettings.DefaultAlignment),
		slog.Int("result_page_size", scanSettings.ResultPageSize),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := memory.NewLinuxProvider()

	engineMetrics := metrics.New()
	broadcaster := eventstream.NewBroadcaster(logger, 64)

	freezeList := freeze.NewList()
	freezeWriter, err := freeze.NewWriter(freezeList, provider, *freezeInterval, *freezeDB)
	if err != nil {
		logger.Error("opening freeze writer failed", slog.Any("error", err))
		os.Exit(1)
	}
	freezeWriter.SetObserver(func(addr uint64, err error) {
		engineMetrics.FreezeWrites.Add(1)
		if err != nil {
			engineMetrics.FreezeWriteErrors.Add(1)
			logger.Warn("freeze write failed", slog.String("address", fmt.Sprintf("%#x", addr)), slog.Any("error", err))
		}
	})
	freezeWriter.Start(ctx)

	var journal *history.Journal
	if *historyPath != "" {
		journal, err = history.Open(*historyPath)
		if err != nil {
			logger.Error("opening history journal failed", slog.String("path", *historyPath), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("history journal opened", slog.String("path", *historyPath))
	}

	var sessionStore *store.Store
	if *postgresDSN != "" {
		sessionStore, err = store.New(ctx, *postgresDSN, 0, 0)
		if err != nil {
			logger.Error("connecting session ledger failed", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("session ledger connected")
	}

	engine := command.NewEngine(provider, freezeList)
	engine.SetEventSink(func(evt scanner.Event) {
		switch v := evt.(type) {
		case scanner.Completed:
			engineMetrics.ScanPasses.Add(1)
			engineMetrics.FiltersProduced.Add(int64(v.TotalFilters))
			if v.Err != nil {
				engineMetrics.ScanErrors.Add(1)
			}
		case scanner.ResultsUpdated:
			engineMetrics.RegionsCompared.Add(1)
		case scanner.ReadFailed:
			engineMetrics.ReadFailures.Add(1)
			logger.Warn("region read failed",
				slog.String("base_address", fmt.Sprintf("%#x", v.BaseAddress)),
				slog.Any("error", v.Err),
			)
		}
		if out, ok := eventstream.FromScannerEvent(evt); ok {
			broadcaster.Publish(out)
		}
	})
	if journal != nil {
		engine.SetHistory(journal)
	}
	if sessionStore != nil {
		engine.SetSessionRecorder(func(ctx context.Context, rec command.ScanSessionRecord) {
			err := sessionStore.RecordSession(ctx, store.Session{
				SessionID:   uuid.NewString(),
				ProcessID:   rec.ProcessID,
				ProcessName: rec.ProcessName,
				DataType:    string(rec.DataType),
				Alignment:   rec.Alignment,
				CompareType: rec.CompareType.String(),
				ScanValue:   rec.ScanValue,
				ResultCount: rec.ResultCount,
				DurationMS:  rec.Duration.Milliseconds(),
				StartedAt:   rec.StartedAt,
			})
			if err != nil {
				logger.Warn("recording scan session failed", slog.Any("error", err))
			}
		})
	}

	for _, req := range []command.Request{
		{Type: command.TypeSettingsGeneralSet, Payload: &command.SettingsGeneralSetRequest{Value: *general}},
		{Type: command.TypeSettingsMemorySet, Payload: &command.SettingsMemorySetRequest{Value: *memSettings}},
		{Type: command.TypeSettingsScanSet, Payload: &command.SettingsScanSetRequest{Value: *scanSettings}},
	} {
		if resp := engine.Dispatch(ctx, req); resp.Err != "" {
			logger.Error("applying settings failed", slog.String("command", string(req.Type)), slog.String("error", resp.Err))
			os.Exit(1)
		}
	}

	// gRPC scan-event stream.
	eventService := eventstream.NewService(broadcaster, logger)
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&eventstream.ServiceDesc, eventService)

	grpcLis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		logger.Error("grpc listener failed", slog.String("addr", *grpcAddr), slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		logger.Info("event stream listening", slog.String("addr", *grpcAddr))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("grpc server error", slog.Any("error", err))
		}
	}()

	// REST API, liveness and metrics on one HTTP listener.
	var pubKey *rsa.PublicKey
	if *jwtPubKeyPath != "" {
		pubKey, err = loadRSAPublicKey(*jwtPubKeyPath)
		if err != nil {
			logger.Error("loading JWT public key failed", slog.String("path", *jwtPubKeyPath), slog.Any("error", err))
			os.Exit(1)
		}
	}

	apiServer := restapi.NewServer(engine, nil)

	mux := http.NewServeMux()
	mux.Handle("/metrics", engineMetrics.Handler())
	mux.Handle("/", restapi.NewRouter(apiServer, pubKey))

	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("addr", *httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", slog.Any("error", err))
		}
	}()

	// Block until SIGTERM or SIGINT.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	// Graceful shutdown: stop accepting work first, then release resources.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", slog.Any("error", err))
	}
	grpcServer.GracefulStop()

	if err := freezeWriter.Stop(); err != nil {
		logger.Warn("freeze writer shutdown error", slog.Any("error", err))
	}
	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.Warn("history journal close error", slog.Any("error", err))
		}
	}
	if sessionStore != nil {
		sessionStore.Close(shutdownCtx)
	}
	if err := provider.Close(); err != nil {
		logger.Warn("provider close error", slog.Any("error", err))
	}

	logger.Info("scanengine exited cleanly")
}

// loadRSAPublicKey reads a PEM-encoded RSA public key (PKIX "PUBLIC KEY" or
// PKCS#1 "RSA PUBLIC KEY") from path.
func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key in %s is not RSA", path)
		}
		return rsaKey, nil
	}
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
