// Package snapshot implements the durable snapshot manager of spec.md §4.8:
// a `(epoch,count) -> path` index persisted with cockroachdb/pebble (the
// teacher's direct dependency) and directory-level exclusivity during
// finalization via gofrs/flock (also a teacher direct dependency). Actual VM
// image directories are left as opaque filesystem paths under
// `<root>/<epoch>_<processed_input_count>/`.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/gofrs/flock"

	"github.com/cartesi/rollups-operator/types"
)

const latestKey = "latest"

// Manager tracks every snapshot taken under root, keyed by (epoch,
// processed_input_count), and remembers which one is "latest" (spec.md
// §4.8/§6 get_latest/set_latest).
type Manager struct {
	root string
	db   *pebble.DB

	mu sync.Mutex
}

// Open opens (creating if necessary) the index database under
// filepath.Join(root, "index") and returns a Manager rooted at root.
func Open(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir %s: %w", root, err)
	}
	db, err := pebble.Open(filepath.Join(root, "index"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("snapshot: open index: %w", err)
	}
	return &Manager{root: root, db: db}, nil
}

func (m *Manager) Close() error { return m.db.Close() }

func snapshotKey(epoch, processedInputCount uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], epoch)
	binary.BigEndian.PutUint64(buf[8:], processedInputCount)
	return buf
}

// GetStorageDirectory allocates (or returns, if already recorded) the
// on-disk directory for (epoch, processedInputCount), per spec.md §4.8
// get_storage_directory. It does not create the directory itself — the
// server-manager's finish_epoch call does, writing the VM image there.
func (m *Manager) GetStorageDirectory(epoch, processedInputCount uint64) (*types.Snapshot, error) {
	s := &types.Snapshot{Epoch: epoch, ProcessedInputCount: processedInputCount}
	s.Path = filepath.Join(m.root, s.Dir())

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.Set(snapshotKey(epoch, processedInputCount), []byte(s.Path), pebble.Sync); err != nil {
		return nil, fmt.Errorf("snapshot: record storage directory: %w", err)
	}
	return s, nil
}

// SetLatest records s as the current latest snapshot, guarded by an
// on-disk flock so a concurrent reader never observes a half-written
// directory as latest (spec.md §4.8).
func (m *Manager) SetLatest(s *types.Snapshot) error {
	lock := flock.New(filepath.Join(m.root, ".latest.lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("snapshot: lock latest: %w", err)
	}
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	encoded := append(snapshotKey(s.Epoch, s.ProcessedInputCount), []byte(s.Path)...)
	if err := m.db.Set([]byte(latestKey), encoded, pebble.Sync); err != nil {
		return fmt.Errorf("snapshot: set latest: %w", err)
	}
	return nil
}

// GetLatest returns the current latest snapshot, or nil if none has been
// set yet (a fresh dapp with no prior finish_epoch).
func (m *Manager) GetLatest() (*types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, closer, err := m.db.Get([]byte(latestKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: get latest: %w", err)
	}
	defer closer.Close()
	if len(v) < 16 {
		return nil, fmt.Errorf("snapshot: get latest: corrupt index entry")
	}
	epoch := binary.BigEndian.Uint64(v[:8])
	count := binary.BigEndian.Uint64(v[8:16])
	path := string(v[16:])
	return &types.Snapshot{Path: path, Epoch: epoch, ProcessedInputCount: count}, nil
}

// GetTemplateHash reads the machine template hash recorded alongside a
// snapshot's image directory (spec.md §4.8/§6 get_template_hash): a small
// "hash" file written by the server-manager's finish_epoch step.
func (m *Manager) GetTemplateHash(s *types.Snapshot) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(s.Path, "hash"))
	if err != nil {
		return nil, fmt.Errorf("snapshot: get template hash: %w", err)
	}
	return b, nil
}

// List returns every recorded snapshot in ascending (epoch, count) order.
// The runner does not call it; its startup resumes from GetLatest.
func (m *Manager) List() ([]*types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	iter, err := m.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	defer iter.Close()

	var out []*types.Snapshot
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if string(k) == latestKey || len(k) != 16 {
			continue
		}
		epoch := binary.BigEndian.Uint64(k[:8])
		count := binary.BigEndian.Uint64(k[8:])
		out = append(out, &types.Snapshot{Path: string(iter.Value()), Epoch: epoch, ProcessedInputCount: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Epoch != out[j].Epoch {
			return out[i].Epoch < out[j].Epoch
		}
		return out[i].ProcessedInputCount < out[j].ProcessedInputCount
	})
	return out, nil
}
