package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"drivepaddy/internal/alert"
	"drivepaddy/internal/config"
	"drivepaddy/internal/database"
	"drivepaddy/internal/detection"
	"drivepaddy/internal/models"
)

var (
	ErrUnauthorized    = errors.New("invalid session token")
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("session limit reached")
)

const minReapInterval = time.Second

// DetectorFactory builds the detector of a new session from the detection
// config snapshot current at creation time.
type DetectorFactory func(ctx context.Context, cfg *config.DetectionConfig) (detection.Processor, error)

type ManagerConfig struct {
	// Detection returns the current detection config.
	Detection   func() *config.DetectionConfig
	NewDetector DetectorFactory
	Producer    alert.Producer
	// Store is optional; without it sessions and events are not persisted.
	Store      *database.Store
	Publishers []Publisher
	Metrics    *Metrics
	FrameRate  float64
	FrameBurst int
	// TokenCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	TokenCost int
	// MaxSessions caps the live sessions; zero means no cap.
	MaxSessions int
	// IdleTimeout ends sessions that accepted no frame for this long; zero
	// disables reaping.
	IdleTimeout time.Duration
	// MaxFramePixels is the largest frame transports accept; zero means no
	// limit.
	MaxFramePixels int
}

// Manager owns the live sessions.
type Manager struct {
	cfg        ManagerConfig
	store      *database.Store
	publishers []Publisher
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	// pending counts sessions admitted under MaxSessions but not yet
	// registered.
	pending int
}

func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.TokenCost == 0 {
		cfg.TokenCost = bcrypt.DefaultCost
	}
	if cfg.FrameBurst < 1 {
		cfg.FrameBurst = 1
	}
	return &Manager{
		cfg:        cfg,
		store:      cfg.Store,
		publishers: cfg.Publishers,
		metrics:    cfg.Metrics,
		logger:     logger.Named("sessions"),
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

func (m *Manager) Metrics() *Metrics { return m.metrics }

// FrameLimit is the largest frame, in pixels, transports should decode.
func (m *Manager) FrameLimit() int { return m.cfg.MaxFramePixels }

// AddPublisher registers p for sessions created or running from now on.
func (m *Manager) AddPublisher(p Publisher) {
	m.mu.Lock()
	m.publishers = append(m.publishers, p)
	m.mu.Unlock()
}

// Create starts a session and returns it with its access token. The token is
// only ever returned here.
func (m *Manager) Create(ctx context.Context, name string) (models.CreateSessionResponse, error) {
	if err := m.admit(); err != nil {
		return models.CreateSessionResponse{}, err
	}
	registered := false
	defer func() {
		if !registered {
			m.mu.Lock()
			m.pending--
			m.mu.Unlock()
		}
	}()

	cfg := m.cfg.Detection()
	detector, err := m.cfg.NewDetector(ctx, cfg)
	if err != nil {
		return models.CreateSessionResponse{}, fmt.Errorf("build detector: %w", err)
	}

	token := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), m.cfg.TokenCost)
	if err != nil {
		detector.Close()
		return models.CreateSessionResponse{}, fmt.Errorf("hash token: %w", err)
	}

	id := uuid.NewString()
	logger := m.logger.With(zap.String("session_id", id))
	limit := rate.Inf
	if m.cfg.FrameRate > 0 {
		limit = rate.Limit(m.cfg.FrameRate)
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		Name:      name,
		Strategy:  detector.Strategy(),
		StartTime: time.Now().UTC(),
		tokenHash: hash,
		manager:   m,
		limiter:   rate.NewLimiter(limit, m.cfg.FrameBurst),
		gate:      alert.NewGate(cfg.Alerting.Cooldown(), m.cfg.Producer, logger.Named("alert")),
		logger:    logger,
		results:   make(chan models.DetectionResult, publishQueue),
		ctx:       sctx,
		cancel:    cancel,
		detector:  detector,
	}
	s.lastFrame.Store(m.now().UnixNano())

	if m.store != nil {
		if err := m.store.CreateSession(ctx, s.Info(), string(hash)); err != nil {
			cancel()
			detector.Close()
			return models.CreateSessionResponse{}, err
		}
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.pending--
	registered = true
	m.mu.Unlock()
	m.metrics.SessionStarted()
	go s.publishLoop()

	logger.Info("session started", zap.String("name", name), zap.String("strategy", s.Strategy))
	return models.CreateSessionResponse{Session: s.Info(), Token: token}, nil
}

// admit reserves a slot under MaxSessions.
func (m *Manager) admit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxSessions > 0 && len(m.sessions)+m.pending >= m.cfg.MaxSessions {
		return ErrTooManySessions
	}
	m.pending++
	return nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Authenticate returns the live session if token matches its access token.
func (m *Manager) Authenticate(id, token string) (*Session, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)); err != nil {
		return nil, ErrUnauthorized
	}
	return s, nil
}

// Authorize checks token against a live session or, with a store, against
// the hash stored for an ended one.
func (m *Manager) Authorize(ctx context.Context, id, token string) error {
	_, err := m.Authenticate(id, token)
	if !errors.Is(err, ErrSessionNotFound) || m.store == nil {
		return err
	}
	hash, err := m.store.TokenHash(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
		return ErrUnauthorized
	}
	return nil
}

// End stops a live session and records its end time.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return m.finish(ctx, s)
}

func (m *Manager) finish(ctx context.Context, s *Session) error {
	m.metrics.SessionEnded()
	err := s.close()
	if m.store != nil {
		if serr := m.store.EndSession(ctx, s.ID, time.Now().UTC()); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	s.logger.Info("session ended")
	return err
}

// Delete ends the session if it is live and removes it with its events.
func (m *Manager) Delete(ctx context.Context, id string) error {
	endErr := m.End(ctx, id)
	if endErr != nil && !errors.Is(endErr, ErrSessionNotFound) {
		return endErr
	}
	if m.store == nil {
		return endErr
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// Lookup returns a live session, or a stored one when a store is configured.
func (m *Manager) Lookup(ctx context.Context, id string) (models.Session, error) {
	if s, ok := m.Get(id); ok {
		return s.Info(), nil
	}
	if m.store == nil {
		return models.Session{}, ErrSessionNotFound
	}
	sess, err := m.store.GetSession(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return models.Session{}, ErrSessionNotFound
	}
	return sess, err
}

// List returns stored sessions, or the live ones without a store.
func (m *Manager) List(ctx context.Context, status string) ([]models.Session, error) {
	if m.store != nil {
		return m.store.ListSessions(ctx, status)
	}
	out := []models.Session{}
	if status == models.SessionEnded {
		return out, nil
	}
	m.mu.RLock()
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *Manager) Events(ctx context.Context, id string, limit int) ([]models.Event, error) {
	if m.store == nil {
		return []models.Event{}, nil
	}
	if _, err := m.Lookup(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListEvents(ctx, id, limit)
}

// ReapIdle ends the sessions that accepted no frame within IdleTimeout and
// returns how many it ended.
func (m *Manager) ReapIdle(ctx context.Context) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	var idle []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.logger.Info("session idle, ending", zap.Time("last_active", s.LastActive()))
		if err := m.finish(ctx, s); err != nil {
			s.logger.Warn("end idle session", zap.Error(err))
		}
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.IdleTimeout <= 0 {
		return nil
	}
	interval := m.cfg.IdleTimeout / 4
	if interval < minReapInterval {
		interval = minReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.ReapIdle(ctx)
		}
	}
}

func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close ends every live session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := m.finish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) publish(ctx context.Context, res models.DetectionResult) {
	m.mu.RLock()
	pubs := m.publishers
	m.mu.RUnlock()
	for _, p := range pubs {
		if err := p.Publish(ctx, res); err != nil {
			m.logger.Warn("publish result", zap.String("session_id", res.SessionID), zap.Error(err))
		}
	}
}
