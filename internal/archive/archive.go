// Package archive keeps a copy of every accepted webhook batch outside the
// database.
package archive

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

// Archive stores raw webhook payloads.
type Archive interface {
	Store(ctx context.Context, logID uint, receivedAt time.Time, payload []byte) (string, error)
}

// Nop stores nothing.
type Nop struct{}

func (Nop) Store(context.Context, uint, time.Time, []byte) (string, error) { return "", nil }

// ObjectKey builds prefix/YYYY/MM/DD/<logID>-<uuid>.json.
func ObjectKey(prefix string, logID uint, receivedAt time.Time) string {
	t := receivedAt.UTC()
	return path.Join(prefix, t.Format("2006"), t.Format("01"), t.Format("02"),
		fmt.Sprintf("%d-%s.json", logID, uuid.NewString()))
}
