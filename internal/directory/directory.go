// Package directory lists the clients known to the deployment. Backends
// never report the cloud-master sentinel.
package directory

import (
	"context"
	stdErrors "errors"

	"github.com/natssync/mstress/internal/subject"
)

// Directory returns the identifiers of every registered client.
type Directory interface {
	Clients(ctx context.Context) ([]string, error)
}

// Writable is implemented by backends that can register and forget clients.
type Writable interface {
	Directory
	Add(ctx context.Context, client string) error
	Remove(ctx context.Context, client string) (bool, error)
}

// ErrReadOnly is returned by admin operations on a backend that cannot
// change its client set.
var ErrReadOnly = stdErrors.New("directory: backend is read-only")

// filter drops the sentinel, blanks and duplicates while keeping order.
func filter(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" || id == subject.CloudMaster {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
