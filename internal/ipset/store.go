// Package ipset is the named-set side of the enforcement layer.
//
// A Store holds named membership sets that filter rules reference by name.
// Two kernel backends exist: netlink ipset hash:net sets and nftables interval
// sets. MemoryStore backs tests.
package ipset

import (
	"strings"

	"github.com/google/uuid"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/brand"
	"grimm.is/setguard/internal/errors"
)

// ErrNotFound is returned by List for a set that does not exist.
var ErrNotFound = errors.New(errors.KindStore, "set does not exist")

// Info describes one named set.
type Info struct {
	Name     string
	Capacity int // 0 means unbounded
	Count    int
	Members  []address.Record
}

// Store is the enforcement layer's named-set API.
type Store interface {
	// Create makes an empty set sized for capacity members. An existing set
	// is left untouched and reported through existed.
	Create(name string, capacity int) (existed bool, err error)
	Destroy(name string) error
	Flush(name string) error
	BulkLoad(name string, records []address.Record) error
	// Swap exchanges the membership of two sets atomically.
	Swap(a, b string) error
	List(name string) (Info, error)
	Exists(name string) (bool, error)
}

const tempPrefix = "-tmp-"

// TempName returns a fresh staging set name. It fits the 31 byte set name limit.
func TempName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return brand.LowerName + tempPrefix + id[:12]
}

// IsTempName reports whether name was produced by TempName.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, brand.LowerName+tempPrefix)
}

func storeErr(err error, op, set string) error {
	return errors.Attr(errors.Wrapf(err, errors.KindStore, "%s %s", op, set), "set", set)
}
