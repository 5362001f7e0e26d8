package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/sealedauction/coprocessor"
)

// EnclaveServer hosts the coprocessor engine inside a Nitro enclave.
type EnclaveServer struct {
	port    uint32
	engine  *coprocessor.Engine
	handler *coprocessor.Handler
}

func NewEnclaveServer(port uint32) *EnclaveServer {
	return &EnclaveServer{port: port}
}

// getEnclaveAttester attempts to get the NSM attester, returns error if not available
func getEnclaveAttester() (coprocessor.Attester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// init generates the engine keys. A nil attester serves the keys without attestation.
func (s *EnclaveServer) init(attester coprocessor.Attester) error {
	engine, err := coprocessor.GenerateEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize coprocessor engine: %w", err)
	}
	s.engine = engine

	var keys coprocessor.KeyResponder
	if attester != nil {
		keys = coprocessor.NewAttestedKeys(engine, attester)
	}
	s.handler = coprocessor.NewHandler(engine, keys)
	log.Printf("INFO: Coprocessor engine initialized (attested: %v)", attester != nil)
	return nil
}

func (s *EnclaveServer) Start() error {
	attester, err := getEnclaveAttester()
	if err != nil {
		log.Printf("ERROR: NSM initialization failed: %v (serving unattested keys)", err)
	}
	if err := s.init(attester); err != nil {
		return err
	}

	listener, err := vsock.Listen(s.port, nil)
	if err != nil {
		return fmt.Errorf("failed to create vsock listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	log.Printf("INFO: Coprocessor listening on vsock port %d", s.port)

	maxWorkers, err := getRequiredEnvInt("ENCLAVE_MAX_WORKERS")
	if err != nil {
		return fmt.Errorf("failed to get max workers config: %w", err)
	}

	return s.serve(context.Background(), listener, maxWorkers)
}

// serve accepts connections until the listener is closed, handing each to a bounded worker pool.
func (s *EnclaveServer) serve(ctx context.Context, listener net.Listener, maxWorkers int) error {
	if maxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive, got %d", maxWorkers)
	}
	semaphore := make(chan struct{}, maxWorkers)

	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", maxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("ERROR: Failed to accept connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handler.ServeConn(ctx, c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

// Helper function for required environment variable parsing
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}

func main() {
	server := NewEnclaveServer(5000)
	log.Fatal(server.Start())
}
