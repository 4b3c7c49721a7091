package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"entrytracker/internal/model"
)

const (
	peopleSheet  = "People"
	entriesSheet = "Entries"
)

var (
	peopleHeader  = []any{"ID", "Name", "Enrollment No", "Email", "Phone", "QR Code Data", "User ID", "Created At", "QR Image URL"}
	entriesHeader = []any{"ID", "Seq", "Timestamp", "Type", "Person Name", "Person ID", "Enrollment No", "User ID"}
)

// Sheet keeps people and entries in an .xlsx workbook so non-technical
// operators can open the data directly. An empty path keeps the workbook
// in memory only.
type Sheet struct {
	mu   sync.Mutex
	f    *excelize.File
	path string
	seq  int64
}

// NewSheet opens the workbook at path, creating it with both sheets when
// missing.
func NewSheet(path string) (*Sheet, error) {
	s := &Sheet{path: path}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			f, err := excelize.OpenFile(path)
			if err != nil {
				return nil, fmt.Errorf("open workbook: %w", err)
			}
			s.f = f
		}
	}
	if s.f == nil {
		s.f = excelize.NewFile()
	}
	if err := s.ensureSheet(peopleSheet, peopleHeader); err != nil {
		s.f.Close()
		return nil, err
	}
	if err := s.ensureSheet(entriesSheet, entriesHeader); err != nil {
		s.f.Close()
		return nil, err
	}
	if idx, err := s.f.GetSheetIndex("Sheet1"); err == nil && idx >= 0 {
		s.f.DeleteSheet("Sheet1")
	}

	rows, err := s.f.GetRows(entriesSheet)
	if err != nil {
		s.f.Close()
		return nil, err
	}
	for _, r := range dataRows(rows) {
		if n, err := strconv.ParseInt(cell(r, 1), 10, 64); err == nil && n > s.seq {
			s.seq = n
		}
	}
	if err := s.save(); err != nil {
		s.f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sheet) ensureSheet(name string, header []any) error {
	idx, err := s.f.GetSheetIndex(name)
	if err != nil {
		return err
	}
	if idx >= 0 {
		return nil
	}
	if _, err := s.f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	return s.f.SetSheetRow(name, "A1", &header)
}

func (s *Sheet) save() error {
	if s.path == "" {
		return nil
	}
	if err := s.f.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// appendRow writes values after the last used row and saves the workbook.
// A failed save removes the row again so memory matches the file.
func (s *Sheet) appendRow(sheet string, values []any) error {
	rows, err := s.f.GetRows(sheet)
	if err != nil {
		return err
	}
	row := len(rows) + 1
	addr, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := s.f.SetSheetRow(sheet, addr, &values); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		if rerr := s.f.RemoveRow(sheet, row); rerr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rerr)
		}
		return err
	}
	return nil
}

// dataRows skips the header row.
func dataRows(rows [][]string) [][]string {
	if len(rows) == 0 {
		return nil
	}
	return rows[1:]
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func (s *Sheet) ListPeople(ctx context.Context, ownerID string) ([]model.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.f.GetRows(peopleSheet)
	if err != nil {
		return nil, err
	}
	people := make([]model.Person, 0)
	for _, r := range dataRows(rows) {
		if cell(r, 6) != ownerID {
			continue
		}
		created, _ := time.Parse(time.RFC3339Nano, cell(r, 7))
		people = append(people, model.Person{
			ID:           cell(r, 0),
			Name:         cell(r, 1),
			EnrollmentNo: cell(r, 2),
			Email:        cell(r, 3),
			Phone:        cell(r, 4),
			QRCodeData:   cell(r, 5),
			OwnerID:      cell(r, 6),
			CreatedAt:    created.UTC(),
			QRImageURL:   cell(r, 8),
		})
	}
	return people, nil
}

func (s *Sheet) AddPerson(ctx context.Context, p model.Person) error {
	if p.ID == "" {
		return errIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, err := s.findRow(peopleSheet, p.ID); err != nil {
		return err
	} else if row > 0 {
		return nil
	}
	err := s.appendRow(peopleSheet, []any{
		p.ID, p.Name, p.EnrollmentNo, p.Email, p.Phone, p.QRCodeData, p.OwnerID,
		utc(p.CreatedAt).Format(time.RFC3339Nano), p.QRImageURL,
	})
	return err
}

func (s *Sheet) DeletePerson(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.f.GetRows(peopleSheet)
	if err != nil {
		return err
	}
	for i, r := range dataRows(rows) {
		if cell(r, 0) == id && cell(r, 6) == ownerID {
			if err := s.f.RemoveRow(peopleSheet, i+2); err != nil {
				return err
			}
			return s.save()
		}
	}
	return model.ErrNotFound
}

// findRow returns the 1-based row holding id in the first column, or 0.
func (s *Sheet) findRow(sheet, id string) (int, error) {
	rows, err := s.f.GetRows(sheet)
	if err != nil {
		return 0, err
	}
	for i, r := range dataRows(rows) {
		if cell(r, 0) == id {
			return i + 2, nil
		}
	}
	return 0, nil
}

func entryFromRow(r []string) (model.Entry, error) {
	seq, err := strconv.ParseInt(cell(r, 1), 10, 64)
	if err != nil {
		return model.Entry{}, fmt.Errorf("entry %s: bad seq %q", cell(r, 0), cell(r, 1))
	}
	ts, err := time.Parse(time.RFC3339Nano, cell(r, 2))
	if err != nil {
		return model.Entry{}, fmt.Errorf("entry %s: bad timestamp %q", cell(r, 0), cell(r, 2))
	}
	e := model.Entry{
		ID:        cell(r, 0),
		Seq:       seq,
		Timestamp: ts.UTC(),
		Type:      model.EntryType(cell(r, 3)),
		OwnerID:   cell(r, 7),
	}
	if name, pid, enroll := cell(r, 4), cell(r, 5), cell(r, 6); name != "" || pid != "" || enroll != "" {
		e.Person = &model.PersonSnapshot{ID: pid, Name: name, EnrollmentNo: enroll}
	}
	return e, nil
}

func (s *Sheet) ListEntries(ctx context.Context, ownerID string) ([]model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.f.GetRows(entriesSheet)
	if err != nil {
		return nil, err
	}
	entries := make([]model.Entry, 0)
	for _, r := range dataRows(rows) {
		if cell(r, 7) != ownerID {
			continue
		}
		e, err := entryFromRow(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Sheet) AddEntry(ctx context.Context, e model.Entry) (model.Entry, error) {
	if e.ID == "" {
		return model.Entry{}, errIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.findRow(entriesSheet, e.ID)
	if err != nil {
		return model.Entry{}, err
	}
	if row > 0 {
		values, err := s.f.GetRows(entriesSheet)
		if err != nil {
			return model.Entry{}, err
		}
		return entryFromRow(values[row-1])
	}

	e.Seq = s.seq + 1
	e.Timestamp = utc(e.Timestamp)
	var name, pid, enroll string
	if e.Person != nil {
		name, pid, enroll = e.Person.Name, e.Person.ID, e.Person.EnrollmentNo
	}
	err = s.appendRow(entriesSheet, []any{
		e.ID, e.Seq, e.Timestamp.Format(time.RFC3339Nano), string(e.Type), name, pid, enroll, e.OwnerID,
	})
	if err != nil {
		return model.Entry{}, err
	}
	s.seq = e.Seq
	return e, nil
}

func (s *Sheet) ClearEntries(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.f.GetRows(entriesSheet)
	if err != nil {
		return err
	}
	// bottom-up so earlier row numbers stay valid
	for i := len(rows) - 1; i >= 1; i-- {
		if cell(rows[i], 7) == ownerID {
			if err := s.f.RemoveRow(entriesSheet, i+1); err != nil {
				return err
			}
		}
	}
	return s.save()
}

func (s *Sheet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.save(), s.f.Close())
}
