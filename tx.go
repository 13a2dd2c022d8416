package schemacat

import (
	"fmt"
	"runtime/debug"
)

// Tx is a single attempt of a store transaction.
type Tx struct {
	store   *Store
	stx     storageTx
	attempt int
}

func (tx *Tx) Store() *Store {
	return tx.store
}

func (tx *Tx) IsWritable() bool {
	return tx.stx.Writable()
}

// Attempt is 1 for the first run of a transaction function, 2 for the first retry, etc.
func (tx *Tx) Attempt() int {
	return tx.attempt
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}
