package service

import (
	"time"

	"github.com/MKhiriev/go-activesync-state/internal/config"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/store"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/internal/utils"
)

type Services struct {
	Sessions *SessionManager
	Admin    *AdminService
	GC       *GarbageCollector
}

// NewServices wires the services on st. backend may be nil for processes
// that never open sync sessions.
func NewServices(st store.StateStore, backend Backend, cfg config.StructuredConfig, logger *logger.Logger) *Services {
	gc := NewGarbageCollector(st)
	return &Services{
		Sessions: NewSessionManager(st, backend, cfg.Session, logger),
		Admin:    NewAdminService(st, gc, logger),
		GC:       gc,
	}
}

// SessionManager opens sessions and owns what they share: the collection
// locks and the sync key generator.
type SessionManager struct {
	store   store.StateStore
	backend Backend
	tracker *ChangeTracker
	gc      *GarbageCollector
	keys    *synckey.Generator
	locks   *utils.KeyedMutex
	cfg     config.Session
	logger  *logger.Logger
	now     func() time.Time
}

func NewSessionManager(st store.StateStore, backend Backend, cfg config.Session, logger *logger.Logger) *SessionManager {
	return &SessionManager{
		store:   st,
		backend: backend,
		tracker: NewChangeTracker(st, backend),
		gc:      NewGarbageCollector(st),
		keys:    synckey.NewGenerator(cfg.MaxCollisionRetries),
		locks:   utils.NewKeyedMutex(),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Open returns an unloaded session for one request of deviceID and user.
func (m *SessionManager) Open(deviceID, user string) *Session {
	return &Session{
		m:        m,
		deviceID: deviceID,
		user:     user,
		log:      m.logger.ForDevice(deviceID, user),
	}
}
