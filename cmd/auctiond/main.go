// Command auctiond runs the sealed-bid auction API.
//
// Bid amounts are sealed to the coprocessor's attested key and never seen by this process.
// The coprocessor runs in-process for development, or in a Nitro enclave reached over vsock.
//
// # Configuration File
//
//	log_level: info
//	http:
//	  listen_addr: ":8080"
//	  admin_token: "admin:secret"   # enables POST /admin/fund
//	store:
//	  kind: postgres                # memory or postgres
//	  postgres:
//	    host: localhost
//	    database: sealedauction
//	coprocessor:
//	  mode: vsock                   # local, vsock or tcp
//	  cid: 16
//	  port: 5000
//	  attestation:
//	    pcrs_file: pcrs.json
//	    require: true
//	settlement:
//	  third_party_determination: true
//
// # Usage
//
//	go run ./cmd/auctiond --config=auctiond.yaml
//	go run ./cmd/auctiond --addr=:9090 --store=memory --coprocessor=local
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cloudx-io/sealedauction/api/httpserver"
	"github.com/cloudx-io/sealedauction/coprocessor"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/disclosure"
	"github.com/cloudx-io/sealedauction/enclaveapi"
	"github.com/cloudx-io/sealedauction/service"
	"github.com/cloudx-io/sealedauction/store"
	"github.com/cloudx-io/sealedauction/validation"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to YAML config file")
		addr            = flag.String("addr", ":8080", "HTTP listen address")
		adminToken      = flag.String("admin-token", "", "Admin token for /admin/fund (user:pass)")
		storeKind       = flag.String("store", "", "Store: memory or postgres")
		coprocessorMode = flag.String("coprocessor", "", "Coprocessor: local, vsock or tcp")
		coprocessorAddr = flag.String("coprocessor-addr", "", "Coprocessor TCP address (tcp mode)")
		pcrsFile        = flag.String("pcrs", "", "Known PCR sets JSON file for key attestation")
		logLevel        = flag.String("log-level", "", "Log level: debug, info, warn or error")
	)
	flag.Parse()

	isFlagSet := func(name string) bool {
		found := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == name {
				found = true
			}
		})
		return found
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	if isFlagSet("addr") {
		cfg.HTTP.ListenAddr = *addr
	}
	if *adminToken != "" {
		cfg.HTTP.AdminToken = *adminToken
	}
	if *storeKind != "" {
		cfg.Store.Kind = *storeKind
	}
	if *coprocessorMode != "" {
		cfg.Coprocessor.Mode = *coprocessorMode
	}
	if *coprocessorAddr != "" {
		cfg.Coprocessor.Addr = *coprocessorAddr
	}
	if *pcrsFile != "" {
		cfg.Coprocessor.Attestation.PCRsFile = *pcrsFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Printf("ERROR: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("ERROR: Failed to close store: %v", err)
		}
	}()

	backend, err := openCoprocessor(ctx, cfg.Coprocessor)
	if err != nil {
		return err
	}

	svc := service.New(st, backend.coprocessor, backend.verifier, nil, service.Options{
		ThirdPartyDetermination: cfg.Settlement.ThirdPartyDetermination,
	})

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTP.ListenAddr,
		EnablePprof:              cfg.HTTP.EnablePprof,
		Log:                      logger,
		DrainDuration:            cfg.HTTP.DrainDuration,
		GracefulShutdownDuration: cfg.HTTP.ShutdownDuration,
		ReadTimeout:              cfg.HTTP.ReadTimeout,
		WriteTimeout:             cfg.HTTP.WriteTimeout,
	}, httpserver.NewAuctionHandler(svc, backend.gateway, cfg.HTTP.AdminToken))
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	srv.RunInBackground()
	<-ctx.Done()

	log.Printf("INFO: Shutting down auctiond")
	srv.Shutdown()
	return nil
}

func openStore(cfg StoreConfig) (store.Store, error) {
	switch cfg.Kind {
	case StorePostgres:
		st, err := store.NewPostgresStore(&cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Printf("INFO: Using PostgreSQL store at %s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
		return st, nil
	case StoreMemory:
		log.Printf("INFO: Using in-memory store")
		return store.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// keyedCoprocessor is a coprocessor that can describe its sealing and oracle keys and
// release plaintexts to the viewers on a handle's access list.
type keyedCoprocessor interface {
	core.Coprocessor
	KeyResponse() (*enclaveapi.KeyResponse, error)
	Decrypt(ctx context.Context, h core.Handle, viewer core.Identity, signature []byte) ([]byte, []byte, error)
}

type coprocessorBackend struct {
	coprocessor core.Coprocessor
	gateway     httpserver.Coprocessor
	verifier    core.DecryptionVerifier
}

func openCoprocessor(ctx context.Context, cfg CoprocessorConfig) (*coprocessorBackend, error) {
	var cop keyedCoprocessor
	switch cfg.Mode {
	case CoprocessorLocal:
		engine, err := coprocessor.GenerateEngine()
		if err != nil {
			return nil, fmt.Errorf("create local coprocessor: %w", err)
		}
		log.Printf("INFO: Using in-process coprocessor (keys are not attested)")
		cop = engine
	case CoprocessorVsock:
		client := coprocessor.NewVsockClient(cfg.CID, cfg.Port, cfg.Timeout)
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("reach coprocessor at vsock %d:%d: %w", cfg.CID, cfg.Port, err)
		}
		log.Printf("INFO: Using enclave coprocessor at vsock %d:%d", cfg.CID, cfg.Port)
		cop = client
	case CoprocessorTCP:
		client := coprocessor.NewTCPClient(cfg.Addr, cfg.Timeout)
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("reach coprocessor at %s: %w", cfg.Addr, err)
		}
		log.Printf("INFO: Using coprocessor at %s", cfg.Addr)
		cop = client
	default:
		return nil, fmt.Errorf("unknown coprocessor mode %q", cfg.Mode)
	}

	keys, err := cop.KeyResponse()
	if err != nil {
		return nil, fmt.Errorf("fetch coprocessor keys: %w", err)
	}

	oracleKey, err := checkKeyAttestation(keys, cfg.Attestation, validation.Options{})
	if err != nil {
		return nil, err
	}

	verifier, err := disclosure.NewVerifierFromPEM(oracleKey)
	if err != nil {
		return nil, fmt.Errorf("load oracle key: %w", err)
	}

	return &coprocessorBackend{coprocessor: cop, gateway: cop, verifier: verifier}, nil
}

// checkKeyAttestation validates the key response when PCRs are configured and returns the
// oracle key proofs are verified against.
func checkKeyAttestation(keys *enclaveapi.KeyResponse, cfg AttestationConfig, opts validation.Options) (string, error) {
	if cfg.PCRsFile == "" {
		return keys.OracleKey, nil
	}

	knownPCRs, err := validation.LoadPCRsFromFile(cfg.PCRsFile)
	if err != nil {
		return "", fmt.Errorf("load known PCRs: %w", err)
	}
	opts.KnownPCRs = knownPCRs

	result, err := validation.ValidateKeyResponse(keys, opts)
	if err == nil && result.IsValid() {
		log.Printf("INFO: Coprocessor key attestation valid")
		return result.AttestedOracleKey, nil
	}

	if err == nil {
		err = errors.New(strings.Join(result.ValidationDetails, "; "))
	}
	if cfg.Require {
		return "", fmt.Errorf("coprocessor key attestation invalid: %w", err)
	}
	log.Printf("ERROR: Coprocessor key attestation invalid: %v (continuing)", err)
	return keys.OracleKey, nil
}
