package lstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/expire"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

type storeImpl struct {
	db           db.KVDB
	snapshotFile string
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// If snapshotFile is set and exists, the database is restored from it and
// Save writes to it.
func NewLocalStore(factory store.DBFactory, snapshotFile string) (store.IStore, error) {
	database, err := factory()
	if err != nil {
		return nil, err
	}
	s := &storeImpl{
		db:           database,
		snapshotFile: snapshotFile,
	}
	if err := s.restore(); err != nil {
		_ = database.Close()
		return nil, err
	}
	return s, nil
}

// restore loads the snapshot file if one is configured and present.
func (s *storeImpl) restore() error {
	if s.snapshotFile == "" {
		return nil
	}
	f, err := os.Open(s.snapshotFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if !s.db.SupportsFeature(db.FeatureLoad) {
		return store.NewError(store.RetCUnsupportedOperation, "Load operation is not supported")
	}
	if err := s.db.Load(f); err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", s.snapshotFile, err)
	}
	log.Infof("Restored snapshot from %s", s.snapshotFile)
	return nil
}

func (s *storeImpl) check(feature db.Feature, op string) error {
	if !s.db.SupportsFeature(feature) {
		return store.NewError(store.RetCUnsupportedOperation, op+" operation is not supported")
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(dbIdx int, key string) (*db.StoredValue, error) {
	if err := s.check(db.FeatureGet, "Get"); err != nil {
		return nil, err
	}
	val, err := s.db.Get(dbIdx, key, expire.Now())
	return val, store.Wrap(err)
}

func (s *storeImpl) Set(dbIdx int, key string, value *db.StoredValue) error {
	if err := s.check(db.FeatureSet, "Set"); err != nil {
		return err
	}
	return store.Wrap(s.db.Set(dbIdx, key, value, expire.Now()))
}

func (s *storeImpl) Delete(dbIdx int, key string) (bool, error) {
	if err := s.check(db.FeatureDelete, "Delete"); err != nil {
		return false, err
	}
	removed, err := s.db.Delete(dbIdx, key, expire.Now())
	return removed, store.Wrap(err)
}

func (s *storeImpl) Exists(dbIdx int, key string) (bool, error) {
	if err := s.check(db.FeatureGet, "Exists"); err != nil {
		return false, err
	}
	ok, err := s.db.Exists(dbIdx, key, expire.Now())
	return ok, store.Wrap(err)
}

func (s *storeImpl) Keys(dbIdx int, pattern string) ([]string, error) {
	if err := s.check(db.FeatureKeys, "Keys"); err != nil {
		return nil, err
	}
	keys, err := s.db.Keys(dbIdx, pattern, expire.Now())
	return keys, store.Wrap(err)
}

func (s *storeImpl) Scan(dbIdx int, cursor uint64, pattern string, count int) (uint64, []string, error) {
	if err := s.check(db.FeatureKeys, "Scan"); err != nil {
		return 0, nil, err
	}
	next, keys, err := s.db.Scan(dbIdx, cursor, pattern, count, expire.Now())
	if errors.Is(err, db.ErrInvalidCursor) {
		return 0, nil, store.ErrInvalidCursor
	}
	return next, keys, store.Wrap(err)
}

func (s *storeImpl) Flush(dbIdx int) error {
	if err := s.check(db.FeatureFlush, "Flush"); err != nil {
		return err
	}
	return store.Wrap(s.db.Flush(dbIdx))
}

func (s *storeImpl) FlushAll() error {
	if err := s.check(db.FeatureFlush, "FlushAll"); err != nil {
		return err
	}
	return store.Wrap(s.db.FlushAll())
}

func (s *storeImpl) Size(dbIdx int) (int, error) {
	n, err := s.db.Size(dbIdx)
	return n, store.Wrap(err)
}

func (s *storeImpl) Swap(a, b int) error {
	if err := s.check(db.FeatureSwap, "Swap"); err != nil {
		return err
	}
	return store.Wrap(s.db.Swap(a, b))
}

func (s *storeImpl) SetExpiration(dbIdx int, key string, at int64) (bool, error) {
	if err := s.check(db.FeatureExpire, "SetExpiration"); err != nil {
		return false, err
	}
	ok, err := s.db.SetExpiration(dbIdx, key, at, expire.Now())
	return ok, store.Wrap(err)
}

func (s *storeImpl) GetExpiration(dbIdx int, key string) (int64, bool, error) {
	if err := s.check(db.FeatureExpire, "GetExpiration"); err != nil {
		return 0, false, err
	}
	at, ok, err := s.db.GetExpiration(dbIdx, key, expire.Now())
	return at, ok, store.Wrap(err)
}

func (s *storeImpl) RemoveExpiration(dbIdx int, key string) (bool, error) {
	if err := s.check(db.FeatureExpire, "RemoveExpiration"); err != nil {
		return false, err
	}
	ok, err := s.db.RemoveExpiration(dbIdx, key, expire.Now())
	return ok, store.Wrap(err)
}

func (s *storeImpl) WriteBatch(dbIdx int, ops []db.BatchOp) error {
	if err := s.check(db.FeatureWriteBatch, "WriteBatch"); err != nil {
		return err
	}
	return store.Wrap(s.db.WriteBatch(dbIdx, ops, expire.Now()))
}

func (s *storeImpl) ExpireCycle(dbIdx int, limit int) (int, error) {
	if err := s.check(db.FeatureExpireCycle, "ExpireCycle"); err != nil {
		return 0, err
	}
	removed, err := s.db.ExpireCycle(dbIdx, limit, expire.Now())
	return removed, store.Wrap(err)
}

func (s *storeImpl) NumDatabases() int {
	return s.db.NumDatabases()
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

// Save writes the snapshot into a temporary file next to the snapshot file and
// renames it, so a crash never leaves a partial snapshot behind.
func (s *storeImpl) Save() error {
	if s.snapshotFile == "" {
		return store.NewError(store.RetCInvalidOperation, "no snapshot file configured")
	}
	if err := s.check(db.FeatureSave, "Save"); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.snapshotFile), filepath.Base(s.snapshotFile)+".tmp-*")
	if err != nil {
		return store.Wrap(err)
	}
	defer os.Remove(tmp.Name())

	if err := s.saveTo(tmp); err != nil {
		_ = tmp.Close()
		return store.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return store.Wrap(err)
	}
	return store.Wrap(os.Rename(tmp.Name(), s.snapshotFile))
}

func (s *storeImpl) saveTo(f *os.File) error {
	if err := s.db.Save(f); err != nil {
		return err
	}
	return f.Sync()
}

func (s *storeImpl) Close() error {
	return s.db.Close()
}
