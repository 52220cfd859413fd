package route

import (
	"encoding/json"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/cifabric/cifabric/internal/fault"
)

var routesBucket = []byte("routes")

// Store persists route definitions in a bbolt file. Safe for concurrent
// use; bbolt serializes writers and gives readers snapshot isolation.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (or creates) the route database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &fault.StorageError{Op: "open", Path: path, Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(routesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &fault.StorageError{Op: "init", Path: path, Err: err}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Define stores a route, replacing any existing definition under the same
// (destination, name) key.
func (s *Store) Define(def *Definition) error {
	if def.Name == "" {
		def.Name = DefaultName
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return &fault.StorageError{Op: "encode", Path: def.Key(), Err: err}
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(routesBucket).Put([]byte(def.Key()), raw)
	})
	if err != nil {
		return &fault.StorageError{Op: "put", Path: def.Key(), Err: err}
	}
	return nil
}

// Get loads the route for (dest, name). An empty name means DefaultName.
func (s *Store) Get(dest, name string) (*Definition, error) {
	key := RouteKey(dest, name)
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(routesBucket).Get([]byte(key))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, &fault.StorageError{Op: "get", Path: key, Err: err}
	}
	if raw == nil {
		return nil, &fault.NotFoundError{Kind: "route", Name: key}
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, &fault.StorageError{Op: "decode", Path: key, Err: err}
	}
	return &def, nil
}

// Remove deletes the route for (dest, name). Removing an absent route is
// a NotFoundError.
func (s *Store) Remove(dest, name string) error {
	key := RouteKey(dest, name)
	var missing bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(routesBucket)
		if b.Get([]byte(key)) == nil {
			missing = true
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return &fault.StorageError{Op: "delete", Path: key, Err: err}
	}
	if missing {
		return &fault.NotFoundError{Kind: "route", Name: key}
	}
	return nil
}

// List returns all routes, or only those for dest when dest is non-empty,
// in key order.
func (s *Store) List(dest string) ([]*Definition, error) {
	var defs []*Definition
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(routesBucket).ForEach(func(k, v []byte) error {
			if dest != "" && !strings.HasPrefix(string(k), dest+":") {
				return nil
			}
			var def Definition
			if err := json.Unmarshal(v, &def); err != nil {
				return err
			}
			defs = append(defs, &def)
			return nil
		})
	})
	if err != nil {
		return nil, &fault.StorageError{Op: "list", Path: "routes", Err: err}
	}
	return defs, nil
}
