// Package server ties the storage layer, background workers, and
// per-connection protocol state machine into one running process: the
// storage server itself (spec §2, §5). Its accept loop and shutdown
// sequencing follow the teacher daemon's listener lifecycle
// (internal/rpc/server_lifecycle_conn.go), adapted from a single JSON-RPC
// socket serving one request type to the framed binary protocol session.New
// implements, serving one goroutine per client connection.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/akonadi-go/akonadi/internal/buslock"
	"github.com/akonadi-go/akonadi/internal/cachecleaner"
	"github.com/akonadi-go/akonadi/internal/config"
	"github.com/akonadi-go/akonadi/internal/driver"
	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/notify"
	"github.com/akonadi-go/akonadi/internal/payload"
	"github.com/akonadi-go/akonadi/internal/retriever"
	"github.com/akonadi-go/akonadi/internal/schema"
	"github.com/akonadi-go/akonadi/internal/search"
	"github.com/akonadi-go/akonadi/internal/session"
	"github.com/akonadi-go/akonadi/internal/txn"
)

// Server owns one storage server instance: a single database, a single
// notification hub, and the workers and listeners built on top of them.
// Only one Server per instance ID may run at a time, enforced by the
// buslock stand-in for the session-bus well-known name.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	lock   *buslock.Lock
	driver *driver.Driver

	entities  *entities.Store
	payload   *payload.Store
	txn       *txn.Manager
	hub       *notify.Hub
	retriever *retriever.Retriever
	search    *search.Manager

	cleaner *cachecleaner.Cleaner
	sweeper *payload.Sweeper

	listener net.Listener

	mu            sync.Mutex
	shutdown      bool
	wg            sync.WaitGroup
	cancelWorkers context.CancelFunc

	readyChan chan struct{}
	doneChan  chan struct{}
}

// Directory is supplied by the caller to resolve resource agent clients
// for the retriever; out of this module's scope otherwise (spec §1).
type Directory = retriever.Directory

// Engines is the set of pluggable search backends to dispatch to.
type Engines = []search.Engine

// New wires a Server from cfg. It acquires the buslock, opens the
// database, runs pending migrations, and constructs every storage-layer
// collaborator, but does not yet listen or start background workers —
// call Start for that.
func New(cfg *config.Config, dir Directory, engines Engines, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	lockPath := filepath.Join(runtimeDir(cfg), lockFileName(cfg.InstanceID))
	lock := buslock.New(lockPath)
	if err := lock.Acquire(); err != nil {
		return nil, fmt.Errorf("server: acquire instance lock: %w", err)
	}

	d, err := openDriver(cfg)
	if err != nil {
		lock.Release()
		return nil, err
	}

	if err := schema.Migrate(context.Background(), d); err != nil {
		d.Close()
		lock.Release()
		return nil, fmt.Errorf("server: migrate schema: %w", err)
	}

	es := entities.New(d)
	pl, err := payload.New(es, filepath.Join(cfg.DataDir, "file_db_data"), cfg.PayloadThreshold)
	if err != nil {
		d.Close()
		lock.Release()
		return nil, err
	}

	hub := notify.NewHub()
	hub.EnableSpool(notify.NewSpool(), d, log.With("component", "notify"))
	tm := txn.New(d, hub)
	rt := retriever.New(es, pl, dir, cfg.RetrieverTimeout)
	sm := search.New(es, engines...)

	s := &Server{
		cfg:       cfg,
		log:       log,
		lock:      lock,
		driver:    d,
		entities:  es,
		payload:   pl,
		txn:       tm,
		hub:       hub,
		retriever: rt,
		search:    sm,
		cleaner:   cachecleaner.New(es, pl, log.With("worker", "cachecleaner")),
		sweeper:   payload.NewSweeper(pl, d, log.With("worker", "sweeper"), cfg.CacheCleaner.SweepGrace),
		readyChan: make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
	return s, nil
}

func openDriver(cfg *config.Config) (*driver.Driver, error) {
	switch driver.Dialect(cfg.Driver.Dialect) {
	case driver.DialectMySQL:
		return driver.OpenClientServer(cfg.Driver.DSN, cfg.Driver.StmtCacheSize)
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("server: create data dir: %w", err)
		}
		return driver.OpenEmbedded(cfg.Driver.DSN, cfg.Driver.StmtCacheSize)
	}
}

func runtimeDir(cfg *config.Config) string {
	if cfg.DataDir != "" {
		return cfg.DataDir
	}
	return os.TempDir()
}

func lockFileName(instance string) string {
	if instance == "" {
		return "akonadiserver.lock"
	}
	return "akonadiserver-" + instance + ".lock"
}

// Start opens the client listener (a local stream socket, or loopback
// TCP when cfg.SocketPath is empty), starts the cache cleaner and
// sweeper background workers, and accepts connections until ctx is
// cancelled or Stop is called. It blocks until the accept loop exits.
func (s *Server) Start(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = listener

	close(s.readyChan)
	defer close(s.doneChan)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelWorkers = cancelWorkers
	s.mu.Unlock()
	defer cancelWorkers()

	if err := s.sweeper.WatchDir(); err != nil {
		s.log.Warn("server: payload directory watch unavailable", "error", err)
	}

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.cleaner.Run(workerCtx) }()
	go func() { defer s.wg.Done(); s.sweeper.Run(workerCtx, s.cfg.CacheCleaner.SweepGrace) }()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shuttingDown := s.shutdown
			s.mu.Unlock()
			if shuttingDown {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			sess := session.New(c, session.Deps{
				Entities:  s.entities,
				Payload:   s.payload,
				Txn:       s.txn,
				Hub:       s.hub,
				Retriever: s.retriever,
				Search:    s.search,
			}, s.log.With("remote", c.RemoteAddr()))
			sess.Run(ctx)
		}(conn)
	}
}

func (s *Server) listen() (net.Listener, error) {
	if s.cfg.SocketPath != "" && runtime.GOOS != "windows" {
		if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
			return nil, fmt.Errorf("server: create socket dir: %w", err)
		}
		os.Remove(s.cfg.SocketPath)
		l, err := net.Listen("unix", s.cfg.SocketPath)
		if err != nil {
			return nil, fmt.Errorf("server: listen on %s: %w", s.cfg.SocketPath, err)
		}
		return l, nil
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	return l, nil
}

// WaitReady blocks until the server is accepting connections.
func (s *Server) WaitReady() <-chan struct{} { return s.readyChan }

// Stop closes the listener, waits for in-flight connections to finish,
// and releases the database and instance lock. Safe to call more than
// once; only the first call does anything.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	listener := s.listener
	cancelWorkers := s.cancelWorkers
	s.mu.Unlock()

	if cancelWorkers != nil {
		cancelWorkers()
	}
	if listener != nil {
		if err := listener.Close(); err != nil {
			s.log.Warn("server: failed to close listener", "error", err)
		}
	}

	select {
	case <-s.doneChan:
	case <-time.After(5 * time.Second):
	}

	if err := s.sweeper.Close(); err != nil {
		s.log.Warn("server: failed to close payload watcher", "error", err)
	}
	if err := s.driver.Close(); err != nil {
		s.log.Warn("server: failed to close database", "error", err)
	}
	if err := s.lock.Release(); err != nil {
		s.log.Warn("server: failed to release instance lock", "error", err)
	}
	return nil
}
