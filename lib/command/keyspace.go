package command

import (
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/expire"
	"github.com/ValentinKolb/rKV/lib/store"
)

// Keyspace is the view of one database that handlers operate on. The
// dispatcher hands out a view of the store; scripts hand out their
// transaction, which buffers writes until commit.
//
// Values returned by Get are owned by the caller for the duration of the
// command: they may be modified, but every modification must be written back
// with Set before the command returns.
type Keyspace interface {
	// DB returns the database index of the view.
	DB() int
	// Now returns the time (unix ms) the command is evaluated at.
	Now() int64
	// Get returns the live value of key or nil.
	Get(key string) (*db.StoredValue, error)
	// Set replaces key including its expiration.
	Set(key string, value *db.StoredValue) error
	// Delete removes key and reports whether a live key was removed.
	Delete(key string) (bool, error)
	// Exists reports whether key is live.
	Exists(key string) (bool, error)
}

// storeView is a Keyspace that reads and writes the store directly. It is
// only used while the dispatcher holds the lock of its database.
type storeView struct {
	st    store.IStore
	dbIdx int
	now   int64
}

// NewStoreView creates a Keyspace on one database of st evaluated at the
// current time.
func NewStoreView(st store.IStore, dbIdx int) Keyspace {
	return &storeView{st: st, dbIdx: dbIdx, now: expire.Now()}
}

func (v *storeView) DB() int { return v.dbIdx }

func (v *storeView) Now() int64 { return v.now }

func (v *storeView) Get(key string) (*db.StoredValue, error) {
	sv, err := v.st.Get(v.dbIdx, key)
	if err != nil || sv == nil {
		return nil, err
	}
	// the store clock and the command clock may disagree by a few ms
	if sv.Expired(v.now) {
		return nil, nil
	}
	return sv, nil
}

func (v *storeView) Set(key string, value *db.StoredValue) error {
	if value.Expired(v.now) {
		_, err := v.st.Delete(v.dbIdx, key)
		return err
	}
	return v.st.Set(v.dbIdx, key, value)
}

func (v *storeView) Delete(key string) (bool, error) {
	return v.st.Delete(v.dbIdx, key)
}

func (v *storeView) Exists(key string) (bool, error) {
	sv, err := v.Get(key)
	return sv != nil, err
}
