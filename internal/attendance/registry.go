package attendance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"entrytracker/internal/model"
	"entrytracker/internal/payload"
)

// PersonInput carries the fields accepted on registration.
type PersonInput struct {
	Name         string
	EnrollmentNo string
	Email        string
	Phone        string
}

// Registry manages registered people and their QR identities.
type Registry struct {
	store  Store
	qr     QREncoder
	images ImageHost
	logger *zap.Logger
	now    func() time.Time
	newID  func(time.Time) string
}

// NewRegistry creates a registry. images may be nil when no host is configured.
func NewRegistry(store Store, qr QREncoder, images ImageHost, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		qr:     qr,
		images: images,
		logger: logger,
		now:    time.Now,
		newID:  NewPersonID,
	}
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// suffixBytes skips byte 6 (version) and byte 8 (variant) of a v4 uuid.
var suffixBytes = [9]int{0, 1, 2, 3, 4, 5, 7, 9, 10}

// NewPersonID returns person_<unix-ms>_<9 base36 chars>, the suffix drawn
// from the random bytes of a uuid.
func NewPersonID(now time.Time) string {
	u := uuid.New()
	var sb strings.Builder
	sb.WriteString("person_")
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	sb.WriteByte('_')
	for _, i := range suffixBytes {
		sb.WriteByte(base36[int(u[i])%len(base36)])
	}
	return sb.String()
}

// AddPerson validates, renders the QR identity and persists a new person.
func (r *Registry) AddPerson(ctx context.Context, ownerID string, in PersonInput) (model.Person, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Person{}, ErrMissingName
	}

	now := r.now().UTC()
	p := model.Person{
		ID:           r.newID(now),
		OwnerID:      ownerID,
		Name:         name,
		EnrollmentNo: strings.TrimSpace(in.EnrollmentNo),
		Email:        strings.TrimSpace(in.Email),
		Phone:        strings.TrimSpace(in.Phone),
		CreatedAt:    now,
	}

	_, text, err := payload.Encode(p, now)
	if err != nil {
		return model.Person{}, err
	}
	p.QRCodeData = text

	png, err := r.qr.PNG(text)
	if err != nil {
		return model.Person{}, fmt.Errorf("render qr code: %w", err)
	}
	if r.images != nil {
		url, err := r.images.UploadPNG(ctx, png, p.ID)
		if err != nil {
			// The payload is stored with the person; the image can be re-rendered.
			r.logger.Warn("qr image upload failed", zap.String("person_id", p.ID), zap.Error(err))
		} else {
			p.QRImageURL = url
		}
	}

	if err := r.store.AddPerson(ctx, p); err != nil {
		return model.Person{}, persistErr("add person", err)
	}
	return p, nil
}

// ListPeople returns people newest first; equal timestamps list the later insert first.
func (r *Registry) ListPeople(ctx context.Context, ownerID string) ([]model.Person, error) {
	people, err := r.store.ListPeople(ctx, ownerID)
	if err != nil {
		return nil, persistErr("list people", err)
	}
	for i, j := 0, len(people)-1; i < j; i, j = i+1, j-1 {
		people[i], people[j] = people[j], people[i]
	}
	sort.SliceStable(people, func(i, j int) bool {
		return people[i].CreatedAt.After(people[j].CreatedAt)
	})
	return people, nil
}

// GetPerson looks up one person.
func (r *Registry) GetPerson(ctx context.Context, ownerID, id string) (model.Person, error) {
	people, err := r.store.ListPeople(ctx, ownerID)
	if err != nil {
		return model.Person{}, persistErr("get person", err)
	}
	for _, p := range people {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Person{}, ErrNotFound
}

// DeletePerson removes a person. Logged entries keep their snapshots.
func (r *Registry) DeletePerson(ctx context.Context, ownerID, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNotFound
	}
	return persistErr("delete person", r.store.DeletePerson(ctx, id, ownerID))
}

// QRCodePNG re-renders the stored payload of a person.
func (r *Registry) QRCodePNG(ctx context.Context, ownerID, id string) ([]byte, model.Person, error) {
	p, err := r.GetPerson(ctx, ownerID, id)
	if err != nil {
		return nil, model.Person{}, err
	}
	png, err := r.qr.PNG(p.QRCodeData)
	if err != nil {
		return nil, model.Person{}, fmt.Errorf("render qr code: %w", err)
	}
	return png, p, nil
}
