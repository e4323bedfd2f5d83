package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-security/hearth-server/internal/models"
)

// MemoryStore is an in-process Store used by tests and by the application
// server when no database DSN is configured.
//
// Transactions are serialized: BeginTx holds the write lock until Commit or
// Rollback, works on a private copy and swaps it in on Commit. Writes made
// outside a transaction wait for the running transaction, so a goroutine
// holding a transaction must not write through the root store.
type MemoryStore struct {
	root *memoryRoot
	tx   *memoryData
	done bool
}

type memoryRoot struct {
	mu   sync.RWMutex // guards data
	txMu sync.Mutex   // serializes writers
	data *memoryData
}

type memoryData struct {
	spaces  map[uuid.UUID]models.Space
	pending map[uuid.UUID]models.PendingDevice
	devices map[models.SerialID]models.Device
	events  []models.EventLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root: &memoryRoot{
			data: &memoryData{
				spaces:  make(map[uuid.UUID]models.Space),
				pending: make(map[uuid.UUID]models.PendingDevice),
				devices: make(map[models.SerialID]models.Device),
			},
		},
	}
}

func (d *memoryData) clone() *memoryData {
	out := &memoryData{
		spaces:  make(map[uuid.UUID]models.Space, len(d.spaces)),
		pending: make(map[uuid.UUID]models.PendingDevice, len(d.pending)),
		devices: make(map[models.SerialID]models.Device, len(d.devices)),
		events:  append([]models.EventLog(nil), d.events...),
	}
	for k, v := range d.spaces {
		out.spaces[k] = v
	}
	for k, v := range d.pending {
		out.pending[k] = v
	}
	for k, v := range d.devices {
		v.Metadata = v.Metadata.Clone()
		out.devices[k] = v
	}
	return out
}

// read runs fn against the visible data
func (s *MemoryStore) read(fn func(d *memoryData) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.root.mu.RLock()
	defer s.root.mu.RUnlock()
	return fn(s.root.data)
}

// write runs fn against the visible data with writers serialized
func (s *MemoryStore) write(fn func(d *memoryData) error) error {
	if s.done {
		return fmt.Errorf("transaction already finished")
	}
	if s.tx != nil {
		return fn(s.tx)
	}
	s.root.txMu.Lock()
	defer s.root.txMu.Unlock()
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	return fn(s.root.data)
}

// BeginTx starts a new transaction
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) {
	if s.tx != nil {
		return nil, fmt.Errorf("nested transactions are not supported")
	}

	s.root.txMu.Lock()
	s.root.mu.RLock()
	snapshot := s.root.data.clone()
	s.root.mu.RUnlock()

	return &MemoryStore{root: s.root, tx: snapshot}, nil
}

// Commit publishes the transaction's changes
func (s *MemoryStore) Commit() error {
	if s.tx == nil || s.done {
		return nil
	}

	s.root.mu.Lock()
	s.root.data = s.tx
	s.root.mu.Unlock()

	s.done = true
	s.root.txMu.Unlock()
	return nil
}

// Rollback discards the transaction's changes
func (s *MemoryStore) Rollback() error {
	if s.tx == nil || s.done {
		return nil
	}

	s.done = true
	s.root.txMu.Unlock()
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// ========== Spaces ==========

func (s *MemoryStore) CreateSpace(ctx context.Context, space *models.Space) error {
	if space.ID == uuid.Nil {
		space.ID = uuid.New()
	}
	now := time.Now()
	space.CreatedAt = now
	space.UpdatedAt = now

	return s.write(func(d *memoryData) error {
		if _, ok := d.spaces[space.ID]; ok {
			return ErrDuplicateKey
		}
		d.spaces[space.ID] = *space
		return nil
	})
}

func (s *MemoryStore) GetSpace(ctx context.Context, id uuid.UUID) (*models.Space, error) {
	var out *models.Space
	err := s.read(func(d *memoryData) error {
		space, ok := d.spaces[id]
		if !ok {
			return ErrNotFound
		}
		out = &space
		return nil
	})
	return out, err
}

func (s *MemoryStore) UpdateSpace(ctx context.Context, space *models.Space) error {
	space.UpdatedAt = time.Now()
	return s.write(func(d *memoryData) error {
		if _, ok := d.spaces[space.ID]; !ok {
			return ErrNotFound
		}
		d.spaces[space.ID] = *space
		return nil
	})
}

// ========== Pending devices ==========

func (s *MemoryStore) CreatePendingDevice(ctx context.Context, pending *models.PendingDevice) error {
	if pending.ID == uuid.Nil {
		pending.ID = uuid.New()
	}
	now := time.Now()
	pending.CreatedAt = now
	pending.UpdatedAt = now

	return s.write(func(d *memoryData) error {
		for _, p := range d.pending {
			if p.SerialID == pending.SerialID {
				return ErrDuplicateKey
			}
		}
		d.pending[pending.ID] = *pending
		return nil
	})
}

func (s *MemoryStore) GetPendingDevice(ctx context.Context, id uuid.UUID) (*models.PendingDevice, error) {
	var out *models.PendingDevice
	err := s.read(func(d *memoryData) error {
		p, ok := d.pending[id]
		if !ok {
			return ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *MemoryStore) GetPendingDeviceBySerial(ctx context.Context, serial models.SerialID) (*models.PendingDevice, error) {
	var out *models.PendingDevice
	err := s.read(func(d *memoryData) error {
		for _, p := range d.pending {
			if p.SerialID == serial {
				p := p
				out = &p
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (s *MemoryStore) UpdatePendingDevice(ctx context.Context, pending *models.PendingDevice) error {
	pending.UpdatedAt = time.Now()
	return s.write(func(d *memoryData) error {
		if _, ok := d.pending[pending.ID]; !ok {
			return ErrNotFound
		}
		d.pending[pending.ID] = *pending
		return nil
	})
}

func (s *MemoryStore) DeletePendingDevice(ctx context.Context, id uuid.UUID) error {
	return s.write(func(d *memoryData) error {
		if _, ok := d.pending[id]; !ok {
			return ErrNotFound
		}
		delete(d.pending, id)
		return nil
	})
}

func (s *MemoryStore) ListPendingDevices(ctx context.Context, spaceID uuid.UUID) ([]*models.PendingDevice, error) {
	var out []*models.PendingDevice
	err := s.read(func(d *memoryData) error {
		for _, p := range d.pending {
			if p.SpaceID == spaceID {
				p := p
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// ========== Devices ==========

func (s *MemoryStore) CreateDevice(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now
	if device.Metadata == nil {
		device.Metadata = make(models.Variables)
	}

	return s.write(func(d *memoryData) error {
		if _, ok := d.devices[device.SerialID]; ok {
			return ErrDuplicateKey
		}
		stored := *device
		stored.Metadata = device.Metadata.Clone()
		d.devices[device.SerialID] = stored
		return nil
	})
}

func (s *MemoryStore) GetDevice(ctx context.Context, serial models.SerialID) (*models.Device, error) {
	var out *models.Device
	err := s.read(func(d *memoryData) error {
		device, ok := d.devices[serial]
		if !ok {
			return ErrNotFound
		}
		device.Metadata = device.Metadata.Clone()
		out = &device
		return nil
	})
	return out, err
}

func (s *MemoryStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()
	return s.write(func(d *memoryData) error {
		existing, ok := d.devices[device.SerialID]
		if !ok {
			return ErrNotFound
		}
		existing.UpdatedAt = device.UpdatedAt
		existing.Name = device.Name
		existing.Description = device.Description
		existing.HubSerialID = device.HubSerialID
		existing.Metadata = device.Metadata.Clone()
		d.devices[device.SerialID] = existing
		return nil
	})
}

func (s *MemoryStore) ListDevices(ctx context.Context, spaceID uuid.UUID, deviceType *models.DeviceType) ([]*models.Device, error) {
	var out []*models.Device
	err := s.read(func(d *memoryData) error {
		for _, device := range d.devices {
			if device.SpaceID != spaceID {
				continue
			}
			if deviceType != nil && device.Type != *deviceType {
				continue
			}
			device.Metadata = device.Metadata.Clone()
			device := device
			out = append(out, &device)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SerialID.String() < out[j].SerialID.String() })
	return out, err
}

// ========== Events ==========

func (s *MemoryStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	return s.write(func(d *memoryData) error {
		d.events = append(d.events, *event)
		return nil
	})
}

func (s *MemoryStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	var matched []*models.EventLog
	err := s.read(func(d *memoryData) error {
		for i := len(d.events) - 1; i >= 0; i-- {
			e := d.events[i]
			if !filters.matches(&e) {
				continue
			}
			matched = append(matched, &e)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return matched, total, nil
}

func (f EventLogFilters) matches(e *models.EventLog) bool {
	if f.SpaceID != nil && e.SpaceID != *f.SpaceID {
		return false
	}
	if f.SerialID != nil && (e.SerialID == nil || *e.SerialID != *f.SerialID) {
		return false
	}
	if f.Type != nil && e.Type != *f.Type {
		return false
	}
	if f.Level != nil && e.Level != *f.Level {
		return false
	}
	if f.StartTime != nil && e.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.CreatedAt.After(*f.EndTime) {
		return false
	}
	return true
}
