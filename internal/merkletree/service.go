package merkletree

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Buckets enumerates the seven fixed denominations, matching config.rs's
// BUCKET_AMOUNTS (in the ledger's base unit).
var Buckets = [7]uint64{
	100_000_000,
	500_000_000,
	1_000_000_000,
	5_000_000_000,
	10_000_000_000,
	50_000_000_000,
	100_000_000_000,
}

// BucketID resolves amount to its bucket index, or false if amount does not
// match one of the seven fixed denominations.
func BucketID(amount uint64) (uint8, bool) {
	for i, a := range Buckets {
		if a == amount {
			return uint8(i), true
		}
	}
	return 0, false
}

// scanThreshold (T_scan) bounds how many unprocessed on-chain transactions
// SyncFromChain will reconcile; above it the sync is skipped and the local
// tree is kept as is (spec §4.4).
const scanThreshold = 50

type bucketState struct {
	mu   sync.RWMutex
	tree *Tree
}

// Service manages one Tree per bucket with its own snapshot persistence and
// reader/writer lock, matching the original relayer's MerkleService.
type Service struct {
	dir     string
	buckets [7]*bucketState
	group   singleflight.Group
}

// NewService creates a service rooted at dir (created if absent) and
// initializes every bucket's tree, restoring from disk when a snapshot
// exists.
func NewService(dir string) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("merkletree: create state dir %s: %w", dir, err)
	}

	s := &Service{dir: dir}
	for i := range s.buckets {
		s.buckets[i] = &bucketState{}
	}

	for id := range Buckets {
		commitments, err := loadSnapshot(snapshotPath(dir, uint8(id)))
		if err != nil {
			return nil, fmt.Errorf("merkletree: bucket %d: %w", id, err)
		}
		if commitments == nil {
			s.buckets[id].tree = New()
			log.Info().Int("bucket", id).Msg("initialized new Merkle tree")
			continue
		}
		tree, err := Rebuild(commitments)
		if err != nil {
			return nil, fmt.Errorf("merkletree: bucket %d: rebuild: %w", id, err)
		}
		s.buckets[id].tree = tree
		log.Info().Int("bucket", id).Int("commitments", len(commitments)).Msg("restored Merkle tree from disk")
	}
	return s, nil
}

func snapshotPath(dir string, bucketID uint8) string {
	return filepath.Join(dir, fmt.Sprintf("bucket_%d.dat", bucketID))
}

// Insert adds commitment to bucketID's tree and persists the new snapshot
// atomically before returning, so a crash after Insert returns never loses
// the commitment.
func (s *Service) Insert(bucketID uint8, commitment [32]byte) (uint64, error) {
	b, err := s.bucket(bucketID)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.tree.Insert(commitment)
	if err != nil {
		return 0, err
	}
	if err := saveSnapshot(snapshotPath(s.dir, bucketID), b.tree.Leaves()); err != nil {
		// Roll back the in-memory insert so on-disk and in-memory state
		// cannot diverge.
		b.tree, _ = Rebuild(b.tree.Leaves()[:index])
		return 0, fmt.Errorf("merkletree: persist bucket %d: %w", bucketID, err)
	}
	log.Info().Int("bucket", int(bucketID)).Uint64("index", index).Msg("inserted commitment")
	return index, nil
}

// TruncateLast discards the most recently inserted leaf and recomputes the
// previous root, persisting the shrunk snapshot. Used by the deposit
// pipeline to compensate a Merkle insert when the subsequent on-chain
// transaction fails (spec C5 step 8).
func (s *Service) TruncateLast(bucketID uint8) error {
	b, err := s.bucket(bucketID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	leaves := b.tree.Leaves()
	if len(leaves) == 0 {
		return fmt.Errorf("merkletree: bucket %d has no leaf to truncate", bucketID)
	}
	tree, err := Rebuild(leaves[:len(leaves)-1])
	if err != nil {
		return fmt.Errorf("merkletree: truncate bucket %d: %w", bucketID, err)
	}
	if err := saveSnapshot(snapshotPath(s.dir, bucketID), tree.Leaves()); err != nil {
		return fmt.Errorf("merkletree: persist truncated bucket %d: %w", bucketID, err)
	}
	b.tree = tree
	log.Warn().Int("bucket", int(bucketID)).Msg("truncated last leaf after deposit rollback")
	return nil
}

// Root returns the current root for bucketID.
func (s *Service) Root(bucketID uint8) ([32]byte, error) {
	b, err := s.bucket(bucketID)
	if err != nil {
		return [32]byte{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.Root(), nil
}

// Proof returns an inclusion proof for leafIndex in bucketID.
func (s *Service) Proof(bucketID uint8, leafIndex uint64) (*Proof, error) {
	b, err := s.bucket(bucketID)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.Proof(leafIndex)
}

// Size returns the leaf count for bucketID.
func (s *Service) Size(bucketID uint8) (uint64, error) {
	b, err := s.bucket(bucketID)
	if err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.Size(), nil
}

// Commitment returns the leaf at leafIndex, used by the diagnostic
// /commitment endpoint.
func (s *Service) Commitment(bucketID uint8, leafIndex uint64) ([32]byte, error) {
	b, err := s.bucket(bucketID)
	if err != nil {
		return [32]byte{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	leaves := b.tree.Leaves()
	if leafIndex >= uint64(len(leaves)) {
		return [32]byte{}, fmt.Errorf("leaf index %d out of bounds (tree size: %d)", leafIndex, len(leaves))
	}
	return leaves[leafIndex], nil
}

// SyncFromChain reconciles the local tree for bucketID against the chain's
// authoritative commitment list. If the chain list has as many leaves as the
// local tree, nothing is done. If unprocessedCount exceeds T_scan, the sync
// is skipped and the local tree stays authoritative; otherwise the tree is
// rebuilt from scratch from onChainCommitments and snapshotted (spec §4.4).
// Concurrent callers for the same bucket collapse onto a single in-flight
// sync via singleflight.
func (s *Service) SyncFromChain(bucketID uint8, onChainCommitments [][32]byte, unprocessedCount int) error {
	key := fmt.Sprintf("bucket-%d", bucketID)
	_, err, _ := s.group.Do(key, func() (interface{}, error) {
		b, err := s.bucket(bucketID)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		currentSize := b.tree.Size()
		if uint64(len(onChainCommitments)) == currentSize {
			return nil, nil
		}

		if unprocessedCount > scanThreshold {
			log.Warn().Int("bucket", int(bucketID)).Int("unprocessed", unprocessedCount).
				Msg("unprocessed transaction count exceeds scan threshold, skipping history scan and keeping local state authoritative")
			return nil, nil
		}

		tree, err := Rebuild(onChainCommitments)
		if err != nil {
			return nil, fmt.Errorf("rebuild: %w", err)
		}
		b.tree = tree

		if err := saveSnapshot(snapshotPath(s.dir, bucketID), tree.Leaves()); err != nil {
			return nil, fmt.Errorf("persist after sync: %w", err)
		}
		log.Info().Int("bucket", int(bucketID)).Int("commitments", len(onChainCommitments)).Msg("synced bucket from chain")
		return nil, nil
	})
	return err
}

func (s *Service) bucket(bucketID uint8) (*bucketState, error) {
	if int(bucketID) >= len(s.buckets) {
		return nil, fmt.Errorf("merkletree: unknown bucket %d", bucketID)
	}
	return s.buckets[bucketID], nil
}

// --- snapshot persistence: data file is checksum-verified and atomically
// rewritten in full on every change, matching tokenstore's approach so the
// two persistence layers behave identically under crash.

func snapshotChecksum(leaves [][32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte("merkle_tree_state_v1:"))
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(leaves)))
	h.Write(lenBuf[:])
	for _, leaf := range leaves {
		h.Write(leaf[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func saveSnapshot(path string, leaves [][32]byte) error {
	buf := make([]byte, 0, len(leaves)*32)
	for _, leaf := range leaves {
		buf = append(buf, leaf[:]...)
	}
	checksum := snapshotChecksum(leaves)

	if err := atomicWriteFile(path, buf); err != nil {
		return err
	}
	return atomicWriteFile(path+".checksum", checksum[:])
}

func loadSnapshot(path string) ([][32]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	wantChecksum, err := os.ReadFile(path + ".checksum")
	if err != nil {
		return nil, fmt.Errorf("read checksum for %s: %w", path, err)
	}
	if len(data)%32 != 0 {
		return nil, fmt.Errorf("corrupt snapshot %s: length %d not a multiple of 32", path, len(data))
	}

	leaves := make([][32]byte, len(data)/32)
	for i := range leaves {
		copy(leaves[i][:], data[i*32:i*32+32])
	}

	gotChecksum := snapshotChecksum(leaves)
	if string(gotChecksum[:]) != string(wantChecksum) && !checksumMatchesTrimmed(gotChecksum, wantChecksum) {
		return nil, fmt.Errorf("checksum mismatch for %s — refusing to start with a possibly-corrupt pool state", path)
	}
	return leaves, nil
}

func checksumMatchesTrimmed(got [32]byte, want []byte) bool {
	trimmed := want
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == ' ') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return string(got[:]) == string(trimmed)
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
