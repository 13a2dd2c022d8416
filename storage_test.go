package schemacat

import (
	"errors"
	"os"
	"testing"

	"go.etcd.io/bbolt"
)

func forEachStorage(t *testing.T, f func(t *testing.T, st storage)) {
	t.Run("mem", func(t *testing.T) {
		st := newMemStorage()
		defer st.Close()
		f(t, st)
	})
	t.Run("bolt", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Bolt backend skipped in -short mode")
		}
		dbFile := must(os.CreateTemp("", "schemacat_storage_*.db"))
		dbFile.Close()
		defer os.Remove(dbFile.Name())
		bdb := must(bbolt.Open(dbFile.Name(), 0666, &bbolt.Options{NoSync: true}))
		st := newBoltStorage(bdb)
		defer st.Close()
		f(t, st)
	})
}

func collectBuckets(t *testing.T, stx storageTx, path ...string) []string {
	t.Helper()
	var names []string
	err := stx.ForEachBucket(path, func(name string) error {
		names = append(names, name)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachBucket(%q) = %v", path, err)
	}
	return names
}

func TestStorage_Buckets(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st storage) {
		stx := must(st.BeginTx(true))
		if _, err := stx.CreateBucket("root", "a"); !errors.Is(err, ErrNamespaceNotFound) {
			t.Fatalf("CreateBucket without parent = %v, wanted ErrNamespaceNotFound", err)
		}
		must(stx.EnsureBucket("root", "a", "metadata"))
		must(stx.CreateBucket("root", "b"))
		if _, err := stx.CreateBucket("root", "a"); !errors.Is(err, ErrNamespaceExists) {
			t.Fatalf("CreateBucket(existing) = %v, wanted ErrNamespaceExists", err)
		}
		b := stx.Bucket("root", "a", "metadata")
		if b == nil {
			t.Fatalf("Bucket(root/a/metadata) = nil")
		}
		if err := b.Put([]byte("k"), []byte("v")); err != nil {
			t.Fatal(err)
		}
		if err := stx.Bucket("root").Put([]byte("\x00state"), []byte("s")); err != nil {
			t.Fatal(err)
		}
		if err := stx.Commit(); err != nil {
			t.Fatal(err)
		}

		stx = must(st.BeginTx(true))
		deepEqual(t, collectBuckets(t, stx, "root"), []string{"a", "b"})
		deepEqual(t, collectBuckets(t, stx), []string{"root"})
		deepEqual(t, string(stx.Bucket("root", "a", "metadata").Get([]byte("k"))), "v")

		if err := stx.DeleteBucket("root", "a"); err != nil {
			t.Fatal(err)
		}
		if err := stx.DeleteBucket("root", "a"); !errors.Is(err, ErrNamespaceNotFound) {
			t.Fatalf("DeleteBucket(deleted) = %v, wanted ErrNamespaceNotFound", err)
		}
		if stx.Bucket("root", "a", "metadata") != nil {
			t.Fatalf("nested bucket survived DeleteBucket of its parent")
		}
		deepEqual(t, collectBuckets(t, stx, "root"), []string{"b"})
		if err := stx.Rollback(); err != nil {
			t.Fatal(err)
		}

		stx = must(st.BeginTx(false))
		defer stx.Rollback()
		deepEqual(t, collectBuckets(t, stx, "root"), []string{"a", "b"})
		if err := stx.ForEachBucket([]string{"missing"}, func(string) error { return nil }); !errors.Is(err, ErrNamespaceNotFound) {
			t.Fatalf("ForEachBucket(missing) = %v, wanted ErrNamespaceNotFound", err)
		}
	})
}

func TestStorage_CursorSkipsNestedBuckets(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st storage) {
		stx := must(st.BeginTx(true))
		defer stx.Rollback()
		b := must(stx.EnsureBucket("t"))
		must(stx.CreateBucket("t", "nested"))
		for _, k := range []string{"c", "a", "b"} {
			if err := b.Put([]byte(k), []byte(k+k)); err != nil {
				t.Fatal(err)
			}
		}
		if err := b.Delete([]byte("b")); err != nil {
			t.Fatal(err)
		}

		var got []string
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			got = append(got, string(k)+"="+string(v))
		}
		deepEqual(t, got, []string{"a=aa", "c=cc"})

		k, _ := b.Cursor().Seek([]byte("b"))
		deepEqual(t, string(k), "c")
	})
}

func TestMemStorage_SnapshotIsolation(t *testing.T) {
	st := newMemStorage()
	defer st.Close()

	stx := must(st.BeginTx(true))
	must(stx.EnsureBucket("t")).Put([]byte("k"), []byte("1"))
	ensure(t, stx.Commit())

	r := must(st.BeginTx(false))
	defer r.Rollback()

	w := must(st.BeginTx(true))
	ensure(t, w.Bucket("t").Put([]byte("k"), []byte("2")))
	ensure(t, w.Commit())

	deepEqual(t, string(r.Bucket("t").Get([]byte("k"))), "1")

	r2 := must(st.BeginTx(false))
	defer r2.Rollback()
	deepEqual(t, string(r2.Bucket("t").Get([]byte("k"))), "2")
}

func TestMemStorage_ConflictDetection(t *testing.T) {
	st := newMemStorage()
	defer st.Close()

	stx := must(st.BeginTx(true))
	must(stx.EnsureBucket("t"))
	must(stx.EnsureBucket("u"))
	ensure(t, stx.Commit())

	tx1 := must(st.BeginTx(true))
	tx2 := must(st.BeginTx(true))
	tx3 := must(st.BeginTx(true))

	ensure(t, tx1.Bucket("t").Put([]byte("k"), []byte("1")))
	ensure(t, tx2.Bucket("t").Put([]byte("k"), []byte("2")))
	ensure(t, tx3.Bucket("u").Put([]byte("k"), []byte("3")))

	ensure(t, tx1.Commit())
	if err := tx2.Commit(); !errors.Is(err, ErrConflict) {
		t.Fatalf("tx2.Commit() = %v, wanted ErrConflict", err)
	}
	ensure(t, tx3.Commit())

	r := must(st.BeginTx(false))
	defer r.Rollback()
	deepEqual(t, string(r.Bucket("t").Get([]byte("k"))), "1")
	deepEqual(t, string(r.Bucket("u").Get([]byte("k"))), "3")
}

func TestMemStorage_CreateRace(t *testing.T) {
	st := newMemStorage()
	defer st.Close()

	tx1 := must(st.BeginTx(true))
	tx2 := must(st.BeginTx(true))
	must(tx1.EnsureBucket("root", "Employees"))
	must(tx2.EnsureBucket("root", "Employees"))
	ensure(t, tx1.Commit())
	if err := tx2.Commit(); !errors.Is(err, ErrConflict) {
		t.Fatalf("tx2.Commit() = %v, wanted ErrConflict", err)
	}
}

func TestStorage_CommitClosedTx(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st storage) {
		stx := must(st.BeginTx(true))
		must(stx.CreateBucket("t"))
		ensure(t, stx.Rollback())
		if err := stx.Commit(); !errors.Is(err, errTxClosed) {
			t.Fatalf("Commit after Rollback = %v, wanted errTxClosed", err)
		}

		stx = must(st.BeginTx(true))
		ensure(t, stx.Commit())
		if err := stx.Commit(); !errors.Is(err, errTxClosed) {
			t.Fatalf("second Commit = %v, wanted errTxClosed", err)
		}
		ensure(t, stx.Rollback())

		r := must(st.BeginTx(false))
		defer r.Rollback()
		if err := r.Commit(); !errors.Is(err, errTxNotWritable) {
			t.Fatalf("Commit of read tx = %v, wanted errTxNotWritable", err)
		}
		if r.Bucket("t") != nil {
			t.Errorf("** rolled back bucket is visible")
		}
	})
}

func TestMemStorage_ReadOnly(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	r := must(st.BeginTx(false))
	defer r.Rollback()
	if _, err := r.CreateBucket("t"); !errors.Is(err, errTxNotWritable) {
		t.Fatalf("CreateBucket in read tx = %v, wanted errTxNotWritable", err)
	}
	if err := r.Commit(); !errors.Is(err, errTxNotWritable) {
		t.Fatalf("Commit of read tx = %v, wanted errTxNotWritable", err)
	}
}

func ensure(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatal(err)
	}
}
