package schemacat

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

// setup opens a Bolt store in a temp file, or an in-memory store under -short.
func setup(t testing.TB) *Store {
	t.Helper()
	if testing.Short() {
		s := OpenMemory(Options{IsTesting: true, Verbose: true})
		t.Cleanup(func() { s.Close() })
		return s
	}

	dbFile := must(os.CreateTemp("", "schemacat_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s := must(Open(dbFile.Name(), Options{
		IsTesting: true,
		Verbose:   true,
	}))
	t.Cleanup(func() { s.Close() })
	return s
}

func setupCatalog(t testing.TB) *Catalog {
	t.Helper()
	return NewCatalog(setup(t), CatalogOptions{})
}

func setupMemory(t testing.TB) *Store {
	t.Helper()
	s := OpenMemory(Options{IsTesting: true, Verbose: true, RetryBackoff: time.Microsecond})
	t.Cleanup(func() { s.Close() })
	return s
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isStatus(t testing.TB, err error, e StatusCode) {
	if a := Status(err); a != e {
		t.Helper()
		t.Errorf("** got status %v (err = %v), wanted %v", a, err, e)
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}

func TestStoreTx_RetriesOnConflict(t *testing.T) {
	s := setupMemory(t)
	ctx := context.Background()
	dir := NewDirectory("tables")

	var calls int
	err := s.Write(ctx, func(tx *Tx) error {
		calls++
		if tx.Attempt() != calls {
			t.Errorf("** Attempt() = %d, wanted %d", tx.Attempt(), calls)
		}
		if _, err := dir.List(tx); err != nil {
			return err
		}
		if calls == 1 {
			err := s.Write(ctx, func(tx2 *Tx) error {
				_, err := dir.Create(tx2, "other", "")
				return err
			})
			if err != nil {
				return err
			}
		}
		_, err := dir.Create(tx, "mine", "")
		return err
	})
	if err != nil {
		t.Fatalf("Write err = %v", err)
	}
	deepEqual(t, calls, 2)
	deepEqual(t, s.ConflictCount.Load(), uint64(1))

	err = s.Read(ctx, func(tx *Tx) error {
		deepEqual(t, must(dir.List(tx)), []string{"mine", "other"})
		return nil
	})
	if err != nil {
		t.Fatalf("Read err = %v", err)
	}
}

func TestStoreTx_GivesUpAfterMaxRetries(t *testing.T) {
	s := OpenMemory(Options{MaxRetries: 3, RetryBackoff: time.Microsecond})
	defer s.Close()
	ctx := context.Background()
	dir := NewDirectory("tables")

	var calls int
	err := s.Write(ctx, func(tx *Tx) error {
		calls++
		if _, err := dir.List(tx); err != nil {
			return err
		}
		err := s.Write(ctx, func(tx2 *Tx) error {
			_, err := dir.Create(tx2, fmt.Sprintf("other%d", calls), "")
			return err
		})
		if err != nil {
			return err
		}
		_, err = dir.Create(tx, "mine", "")
		return err
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Write err = %v, wanted ErrConflict", err)
	}
	deepEqual(t, calls, 3)
	if !Retryable(err) {
		t.Errorf("** Retryable(%v) = false, wanted true", err)
	}
	isStatus(t, classifyStoreErr("mine", err), StoreError)
}

func TestStoreTx_ErrorRollsBack(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	dir := NewDirectory("tables")

	boom := errors.New("boom")
	err := s.Write(ctx, func(tx *Tx) error {
		if _, err := dir.Create(tx, "Employees", ""); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Write err = %v, wanted boom", err)
	}

	err = s.Read(ctx, func(tx *Tx) error {
		if dir.Exists(tx, "Employees") {
			t.Errorf("** namespace survived a failed transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStoreTx_PanicBecomesError(t *testing.T) {
	s := setup(t)

	err := s.Write(context.Background(), func(tx *Tx) error {
		panic("boom")
	})
	if err == nil {
		t.Fatalf("Write err = nil, wanted error")
	}
	if !strings.Contains(err.Error(), "panic: boom") {
		t.Fatalf("Write err = %q, wanted it to include %q", err.Error(), "panic: boom")
	}
	deepEqual(t, s.WriterCount.Load(), int64(0))
}

func TestStoreTx_CanceledContext(t *testing.T) {
	s := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called bool
	err := s.Read(ctx, func(tx *Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Read err = %v, wanted context.Canceled", err)
	}
	if called {
		t.Fatalf("transaction function called despite canceled context")
	}
}

func TestStoreTx_ReadIsNotWritable(t *testing.T) {
	s := setup(t)
	err := s.Read(context.Background(), func(tx *Tx) error {
		if tx.IsWritable() {
			t.Errorf("** read tx is writable")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, s.ReadCount.Load(), uint64(1))
	deepEqual(t, s.ReaderCount.Load(), int64(0))
}
