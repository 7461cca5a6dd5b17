package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"

	"metastate/lib/cluster"
)

var log = logger.GetLogger("storage")

// Document keys. Index documents are keyed by index UUID so that a renamed
// index keeps its document.
const (
	keyMeta        = "meta"
	keyGlobal      = "global"
	keyIndexPrefix = "index/"
)

// metaDocument is the commit record: the current term and the version of the
// last accepted state. The persisted term is never below the term inside the
// persisted metadata.
type metaDocument struct {
	CurrentTerm         uint64 `json:"current_term"`
	LastAcceptedVersion uint64 `json:"last_accepted_version"`
}

// OnDiskState is the result of loading the best available persisted state.
type OnDiskState struct {
	NodeID              string
	CurrentTerm         uint64
	LastAcceptedVersion uint64
	Metadata            cluster.Metadata
}

// Empty reports whether nothing durable was found on disk.
func (s OnDiskState) Empty() bool {
	return s.CurrentTerm == 0 && s.LastAcceptedVersion == 0 && s.Metadata.IsEmpty()
}

// --------------------------------------------------------------------------
// Service
// --------------------------------------------------------------------------

// Service owns the pebble database holding the persisted cluster state of one
// node. At most one Writer should be live at a time; that discipline is
// enforced by the layer above.
type Service struct {
	dataPath string
	nodeID   string
	fs       vfs.FS
	db       *pebble.DB
}

// NewService opens (or creates) the document store in the given data
// directory using the operating system filesystem.
func NewService(dataPath, nodeID string) (*Service, error) {
	return NewServiceWithFS(dataPath, nodeID, vfs.Default)
}

// NewServiceWithFS opens the document store on the given filesystem. Tests
// use an in-memory filesystem.
func NewServiceWithFS(dataPath, nodeID string, fs vfs.FS) (*Service, error) {
	db, err := pebble.Open(dataPath, &pebble.Options{FS: fs})
	if err != nil {
		return nil, fmt.Errorf("opening state store at %s: %w", dataPath, err)
	}
	log.Infof("opened persisted state store at %s", dataPath)
	return &Service{
		dataPath: dataPath,
		nodeID:   nodeID,
		fs:       fs,
		db:       db,
	}, nil
}

// NodeID returns the persistent node ID this store belongs to.
func (s *Service) NodeID() string {
	return s.nodeID
}

// DataPath returns the data directory of the store.
func (s *Service) DataPath() string {
	return s.dataPath
}

// CreateWriter opens a fresh write session.
func (s *Service) CreateWriter() (*Writer, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state store at %s is closed", s.dataPath)
	}
	return &Writer{svc: s}, nil
}

// Close releases the underlying database.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

// LoadBestOnDiskState reads back the last committed (term, state) pair. A
// store that has never been committed to yields an empty state.
func (s *Service) LoadBestOnDiskState() (OnDiskState, error) {
	empty := OnDiskState{NodeID: s.nodeID, Metadata: cluster.EmptyMetadata()}

	meta, found, err := s.getDocument(keyMeta)
	if err != nil {
		return OnDiskState{}, err
	}
	if !found {
		return empty, nil
	}

	var metaDoc metaDocument
	if err := json.Unmarshal(meta, &metaDoc); err != nil {
		return OnDiskState{}, fmt.Errorf("decoding meta document: %w", err)
	}

	metadata := cluster.EmptyMetadata()
	if global, found, err := s.getDocument(keyGlobal); err != nil {
		return OnDiskState{}, err
	} else if found {
		if err := json.Unmarshal(global, &metadata); err != nil {
			return OnDiskState{}, fmt.Errorf("decoding global document: %w", err)
		}
	}

	indices, err := s.loadIndexDocuments()
	if err != nil {
		return OnDiskState{}, err
	}
	if len(indices) > 0 {
		metadata = metadata.WithIndices(indices)
	}

	return OnDiskState{
		NodeID:              s.nodeID,
		CurrentTerm:         metaDoc.CurrentTerm,
		LastAcceptedVersion: metaDoc.LastAcceptedVersion,
		Metadata:            metadata,
	}, nil
}

// getDocument reads one document, reporting whether it exists.
func (s *Service) getDocument(key string) ([]byte, bool, error) {
	value, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading document %s: %w", key, err)
	}
	// The returned slice is only valid until the closer is closed.
	copied := make([]byte, len(value))
	copy(copied, value)
	if err := closer.Close(); err != nil {
		return nil, false, err
	}
	return copied, true, nil
}

// loadIndexDocuments scans all per-index documents.
func (s *Service) loadIndexDocuments() (map[string]cluster.IndexMetadata, error) {
	iter := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyIndexPrefix),
		UpperBound: []byte(keyIndexPrefix + "\xff"),
	})
	indices := make(map[string]cluster.IndexMetadata)
	for iter.First(); iter.Valid(); iter.Next() {
		var im cluster.IndexMetadata
		if err := json.Unmarshal(iter.Value(), &im); err != nil {
			_ = iter.Close()
			return nil, fmt.Errorf("decoding index document %s: %w", iter.Key(), err)
		}
		indices[im.Name] = im
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, nil
	}
	return indices, nil
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// Writer is one write session against the document store. A writer that has
// observed a failed commit is closed; the owner must open a fresh session
// before writing again.
type Writer struct {
	svc    *Service
	closed atomic.Bool
}

// IsOpen returns whether the session can still accept writes.
func (w *Writer) IsOpen() bool {
	return !w.closed.Load()
}

// Close ends the session. Closing an already-closed session is a no-op.
func (w *Writer) Close() error {
	w.closed.Store(true)
	return nil
}

// WriteFullStateAndCommit replaces the entire keyspace with the given (term,
// state) pair and commits.
func (w *Writer) WriteFullStateAndCommit(term uint64, state cluster.ClusterState) error {
	return w.commit(func(batch *pebble.Batch) error {
		// Drop everything, including index documents of deleted indices.
		if err := batch.DeleteRange([]byte(""), []byte("\xff"), nil); err != nil {
			return err
		}
		if err := setJSON(batch, keyGlobal, state.Metadata.SansIndices()); err != nil {
			return err
		}
		for _, im := range state.Metadata.Indices {
			if err := setJSON(batch, keyIndexPrefix+im.UUID, im); err != nil {
				return err
			}
		}
		return setJSON(batch, keyMeta, metaDocument{
			CurrentTerm:         term,
			LastAcceptedVersion: state.Version,
		})
	})
}

// WriteIncrementalTermUpdateAndCommit writes only a new term referencing the
// already-persisted state version, and commits.
func (w *Writer) WriteIncrementalTermUpdateAndCommit(term uint64, lastAcceptedVersion uint64) error {
	return w.commit(func(batch *pebble.Batch) error {
		return setJSON(batch, keyMeta, metaDocument{
			CurrentTerm:         term,
			LastAcceptedVersion: lastAcceptedVersion,
		})
	})
}

// WriteIncrementalStateAndCommit writes the delta between prev and next and
// commits. Both states must belong to the same term; cross-term version
// numbers are not comparable, so callers fall back to a full write there.
func (w *Writer) WriteIncrementalStateAndCommit(term uint64, prev, next cluster.ClusterState) error {
	return w.commit(func(batch *pebble.Batch) error {
		// Remove documents of indices that disappeared or changed identity.
		for name, pim := range prev.Metadata.Indices {
			nim, ok := next.Metadata.Indices[name]
			if !ok || nim.UUID != pim.UUID {
				if err := batch.Delete([]byte(keyIndexPrefix+pim.UUID), nil); err != nil {
					return err
				}
			}
		}
		// Upsert new or changed index documents.
		for name, nim := range next.Metadata.Indices {
			pim, ok := prev.Metadata.Indices[name]
			if ok && pim.UUID == nim.UUID && pim.Version == nim.Version {
				continue
			}
			if err := setJSON(batch, keyIndexPrefix+nim.UUID, nim); err != nil {
				return err
			}
		}
		// Rewrite the global document only when the non-index metadata moved.
		prevGlobal, err := json.Marshal(prev.Metadata.SansIndices())
		if err != nil {
			return err
		}
		nextGlobal, err := json.Marshal(next.Metadata.SansIndices())
		if err != nil {
			return err
		}
		if !bytes.Equal(prevGlobal, nextGlobal) {
			if err := batch.Set([]byte(keyGlobal), nextGlobal, nil); err != nil {
				return err
			}
		}
		return setJSON(batch, keyMeta, metaDocument{
			CurrentTerm:         term,
			LastAcceptedVersion: next.Version,
		})
	})
}

// commit runs the given mutation inside a batch and commits it synced. Any
// failure closes the session.
func (w *Writer) commit(mutate func(batch *pebble.Batch) error) error {
	if !w.IsOpen() {
		return fmt.Errorf("write session is closed")
	}
	batch := w.svc.db.NewBatch()
	if err := mutate(batch); err != nil {
		_ = batch.Close()
		w.closed.Store(true)
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		w.closed.Store(true)
		return fmt.Errorf("committing state: %w", err)
	}
	return nil
}

func setJSON(batch *pebble.Batch, key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return batch.Set([]byte(key), data, nil)
}
