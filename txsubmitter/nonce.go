package txsubmitter

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// NonceStore persists the next nonce to use per signing address, so a
// restarted submitter resumes from where it left off instead of
// re-deriving it from a potentially stale mempool view. Grounded on
// snapshot.Manager's pebble-backed index (same library, same get/put
// shape over a single small keyspace).
type NonceStore struct {
	db *pebble.DB
}

// OpenNonceStore opens (creating if absent) a pebble database at path.
func OpenNonceStore(path string) (*NonceStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("txsubmitter: open nonce store: %w", err)
	}
	return &NonceStore{db: db}, nil
}

func (s *NonceStore) Close() error { return s.db.Close() }

func nonceKey(addr common.Address) []byte {
	return append([]byte("nonce:"), addr.Bytes()...)
}

// Get returns the stored nonce for addr, and false if none has been
// recorded yet (a fresh address, or one Clear has reset).
func (s *NonceStore) Get(addr common.Address) (uint64, bool, error) {
	v, closer, err := s.db.Get(nonceKey(addr))
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("txsubmitter: get nonce: %w", err)
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(v), true, nil
}

// Set records nonce as the next one addr should use.
func (s *NonceStore) Set(addr common.Address, nonce uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	if err := s.db.Set(nonceKey(addr), buf, pebble.Sync); err != nil {
		return fmt.Errorf("txsubmitter: set nonce: %w", err)
	}
	return nil
}

// Clear drops the stored nonce for addr, forcing the next broadcast to
// re-derive it from the chain. Spec.md §4.10: "if broadcast returns
// NonceTooLow, clear the store and re-initialize."
func (s *NonceStore) Clear(addr common.Address) error {
	if err := s.db.Delete(nonceKey(addr), pebble.Sync); err != nil {
		return fmt.Errorf("txsubmitter: clear nonce: %w", err)
	}
	return nil
}
