package schemacat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

const (
	defaultMaxRetries   = 10
	defaultRetryBackoff = 2 * time.Millisecond
	maxRetryBackoff     = 100 * time.Millisecond
)

// Store is a handle to the transactional key-value store holding the catalog.
// It is safe for concurrent use.
type Store struct {
	st         storage
	logger     *slog.Logger
	verbose    bool
	maxRetries int
	backoff    time.Duration

	lastSize      atomic.Int64
	ReaderCount   atomic.Int64
	WriterCount   atomic.Int64
	ReadCount     atomic.Uint64
	WriteCount    atomic.Uint64
	ConflictCount atomic.Uint64
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// Timeout bounds waiting for the Bolt file lock. Defaults to 10 seconds.
	Timeout time.Duration

	// MaxRetries is the number of attempts for a transaction that keeps
	// running into conflicts. Defaults to 10.
	MaxRetries int

	// RetryBackoff is the initial delay between attempts, doubled every time.
	RetryBackoff time.Duration
}

// Open opens a Bolt-backed store at the given path, creating the file if needed.
func Open(path string, opt Options) (*Store, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("schemacat: %w", err)
	}
	return newStore(newBoltStorage(bdb), opt), nil
}

// OpenMemory returns a transient in-memory store. Unlike Bolt, it lets
// writers run concurrently and reports conflicts at commit time.
func OpenMemory(opt Options) *Store {
	return newStore(newMemStorage(), opt)
}

func newStore(st storage, opt Options) *Store {
	s := &Store{
		st:         st,
		logger:     opt.Logger,
		verbose:    opt.Verbose,
		maxRetries: opt.MaxRetries,
		backoff:    opt.RetryBackoff,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.backoff <= 0 {
		s.backoff = defaultRetryBackoff
	}
	return s
}

func (s *Store) Size() int64 {
	return s.lastSize.Load()
}

func (s *Store) Close() error {
	err := s.st.Close()
	if err != nil {
		return fmt.Errorf("schemacat: closing: %w", err)
	}
	return nil
}

// Tx runs f inside a transaction. Writable transactions are committed when
// f returns nil; if the commit reports a conflict, the whole of f is run again
// in a fresh transaction, up to MaxRetries times. f must therefore not carry
// state between attempts.
//
// A panic inside f is returned as an error.
func (s *Store) Tx(ctx context.Context, writable bool, f func(tx *Tx) error) error {
	backoff := s.backoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.runTx(writable, attempt, f)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		s.ConflictCount.Add(1)
		if attempt >= s.maxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		if s.verbose {
			s.logger.Debug("schemacat: retrying transaction", "attempt", attempt, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func (s *Store) runTx(writable bool, attempt int, f func(tx *Tx) error) error {
	stx, err := s.st.BeginTx(writable)
	if err != nil {
		return fmt.Errorf("schemacat: begin: %w", err)
	}
	// The only thing Rollback reports after a successful Commit is that
	// the tx is closed, which both backends turn into nil.
	defer stx.Rollback()

	if writable {
		s.WriterCount.Add(1)
		defer s.WriterCount.Add(-1)
		s.WriteCount.Add(1)
	} else {
		s.ReaderCount.Add(1)
		defer s.ReaderCount.Add(-1)
		s.ReadCount.Add(1)
	}

	tx := &Tx{store: s, stx: stx, attempt: attempt}
	if err := safelyCall(f, tx); err != nil {
		return err
	}
	if !writable {
		return nil
	}
	s.lastSize.Store(stx.Size())
	return stx.Commit()
}

func (s *Store) Read(ctx context.Context, f func(tx *Tx) error) error {
	return s.Tx(ctx, false, f)
}

func (s *Store) Write(ctx context.Context, f func(tx *Tx) error) error {
	return s.Tx(ctx, true, f)
}
