package attendance

import (
	"context"

	"entrytracker/internal/model"
	"entrytracker/internal/queue"
)

// Store is the persistence port every backend implements. Lists return records
// in insertion order. AddEntry assigns Seq and is idempotent by entry id.
type Store interface {
	ListPeople(ctx context.Context, ownerID string) ([]model.Person, error)
	AddPerson(ctx context.Context, p model.Person) error
	DeletePerson(ctx context.Context, id, ownerID string) error
	ListEntries(ctx context.Context, ownerID string) ([]model.Entry, error)
	AddEntry(ctx context.Context, e model.Entry) (model.Entry, error)
	ClearEntries(ctx context.Context, ownerID string) error
	Close() error
}

// QREncoder renders payload text as a PNG image.
type QREncoder interface {
	PNG(text string) ([]byte, error)
}

// ImageHost stores rendered QR images and returns a public URL.
type ImageHost interface {
	UploadPNG(ctx context.Context, data []byte, publicID string) (string, error)
}

// Publisher receives a message for every recorded entry.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Recorder observes recorded entries and occupancy changes.
type Recorder interface {
	EntryRecorded(t model.EntryType, anonymous bool)
	OccupancyChanged(ownerID string, inside, anonymous int)
	OwnerCleared(ownerID string)
}
