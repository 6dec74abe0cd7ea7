package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/storage"
)

// memStore is the in-memory artifact store used by orchestrator tests. It
// records the order of write operations so ordering invariants can be
// asserted.
type memStore struct {
	mu sync.Mutex

	sessions  map[string]*persistence.Session
	byHash    map[string]string
	analytics map[string]map[string]persistence.ChannelAnalyticsRow
	scores    map[string]persistence.PerformanceScoresRow
	bfr       map[string]map[string]persistence.BFRMonitoring
	settings  map[string]persistence.SessionSettings
	params    map[string]persistence.ProcessingParamsRow
	configs   map[string]persistence.ScoringConfigRow
	prefs     map[string]string
	codes     map[string]int
	ordinals  map[string]int

	writeLog []string
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[string]*persistence.Session),
		byHash:    make(map[string]string),
		analytics: make(map[string]map[string]persistence.ChannelAnalyticsRow),
		scores:    make(map[string]persistence.PerformanceScoresRow),
		bfr:       make(map[string]map[string]persistence.BFRMonitoring),
		settings:  make(map[string]persistence.SessionSettings),
		params:    make(map[string]persistence.ProcessingParamsRow),
		configs:   make(map[string]persistence.ScoringConfigRow),
		prefs:     make(map[string]string),
		codes:     make(map[string]int),
		ordinals:  make(map[string]int),
	}
}

func (m *memStore) repository() *persistence.Repository {
	return &persistence.Repository{
		Sessions:  (*memSessions)(m),
		Analytics: (*memAnalytics)(m),
		Scores:    (*memScores)(m),
		BFR:       (*memBFR)(m),
		Settings:  (*memSettings)(m),
		Params:    (*memParams)(m),
		Configs:   (*memConfigs)(m),
	}
}

func (m *memStore) logWrite(op string) { m.writeLog = append(m.writeLog, op) }

type memSessions memStore

func (m *memSessions) Insert(_ context.Context, s *persistence.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byHash[s.FileHash]; dup {
		return persistence.ErrDuplicateHash
	}
	now := time.Now()
	s.Status = persistence.StatusPending
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	m.sessions[s.ID] = &cp
	m.byHash[s.FileHash] = s.ID
	(*memStore)(m).logWrite("session_insert")
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id string) (*persistence.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) GetByHash(_ context.Context, hash string) (*persistence.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *memSessions) List(_ context.Context, patientID string, limit int) ([]persistence.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []persistence.Session
	for _, s := range m.sessions {
		if patientID == "" || s.PatientID == patientID {
			out = append(out, *s)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memSessions) UpdateStatus(_ context.Context, id, status string, errorMessage *string, structured []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if s.Terminal() {
		return persistence.ErrTerminalStatus
	}
	s.Status = status
	s.ProcessingErrorMessage = errorMessage
	s.ProcessingError = structured
	if s.Terminal() {
		now := time.Now()
		s.ProcessedAt = &now
	}
	(*memStore)(m).logWrite("status_" + status)
	return nil
}

func (m *memSessions) SetTechnicalData(_ context.Context, id string, td persistence.TechnicalData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	s.TechnicalData = &td
	(*memStore)(m).logWrite("technical_data")
	return nil
}

func (m *memSessions) MergeGameMetadata(_ context.Context, id string, md map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if s.GameMetadata == nil {
		s.GameMetadata = make(map[string]interface{})
	}
	for k, v := range md {
		s.GameMetadata[k] = v
	}
	(*memStore)(m).logWrite("game_metadata")
	return nil
}

func (m *memSessions) SetSessionDate(_ context.Context, id string, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	d := date.UTC()
	s.SessionDate = &d
	return nil
}

func (m *memSessions) SetPerformanceAnalysis(_ context.Context, id string, pa map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	s.PerformanceAnalysis = pa
	(*memStore)(m).logWrite("performance_analysis")
	return nil
}

func (m *memSessions) AssignScoringConfig(_ context.Context, id, configID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if s.ScoringConfigID != nil {
		if *s.ScoringConfigID == configID {
			return nil
		}
		return persistence.ErrConfigAssigned
	}
	s.ScoringConfigID = &configID
	return nil
}

func (m *memSessions) NextSessionCode(_ context.Context, patientID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ordinals[patientID]; !ok {
		m.ordinals[patientID] = len(m.ordinals) + 1
	}
	m.codes[patientID]++
	return fmt.Sprintf("P%03dS%03d", m.ordinals[patientID], m.codes[patientID]), nil
}

type memAnalytics memStore

func (m *memAnalytics) UpsertBatch(_ context.Context, rows []persistence.ChannelAnalyticsRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		if m.analytics[row.SessionID] == nil {
			m.analytics[row.SessionID] = make(map[string]persistence.ChannelAnalyticsRow)
		}
		m.analytics[row.SessionID][row.ChannelName] = row
	}
	(*memStore)(m).logWrite("analytics")
	return nil
}

func (m *memAnalytics) ListBySession(_ context.Context, sessionID string) ([]persistence.ChannelAnalyticsRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []persistence.ChannelAnalyticsRow
	for _, row := range m.analytics[sessionID] {
		out = append(out, row)
	}
	return out, nil
}

type memScores memStore

func (m *memScores) Upsert(_ context.Context, row persistence.PerformanceScoresRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[row.SessionID] = row
	(*memStore)(m).logWrite("scores")
	return nil
}

func (m *memScores) GetBySession(_ context.Context, sessionID string) (*persistence.PerformanceScoresRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.scores[sessionID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &row, nil
}

type memBFR memStore

func (m *memBFR) Upsert(_ context.Context, row persistence.BFRMonitoring) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bfr[row.SessionID] == nil {
		m.bfr[row.SessionID] = make(map[string]persistence.BFRMonitoring)
	}
	m.bfr[row.SessionID][row.Channel] = row
	(*memStore)(m).logWrite("bfr")
	return nil
}

func (m *memBFR) ListBySession(_ context.Context, sessionID string) ([]persistence.BFRMonitoring, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []persistence.BFRMonitoring
	for _, row := range m.bfr[sessionID] {
		out = append(out, row)
	}
	return out, nil
}

type memSettings memStore

func (m *memSettings) Upsert(_ context.Context, s persistence.SessionSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.SessionID] = s
	(*memStore)(m).logWrite("settings")
	return nil
}

func (m *memSettings) GetBySession(_ context.Context, sessionID string) (*persistence.SessionSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[sessionID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &s, nil
}

type memParams memStore

func (m *memParams) Upsert(_ context.Context, sessionID string, p persistence.ProcessingParamsRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.SessionID = sessionID
	m.params[sessionID] = p
	(*memStore)(m).logWrite("params")
	return nil
}

func (m *memParams) GetBySession(_ context.Context, sessionID string) (*persistence.ProcessingParamsRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.params[sessionID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &p, nil
}

type memConfigs memStore

func (m *memConfigs) GetByID(_ context.Context, id string) (*persistence.ScoringConfigRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.configs[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &row, nil
}

func (m *memConfigs) Active(_ context.Context) (*persistence.ScoringConfigRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.configs {
		if row.Active {
			cp := row
			return &cp, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (m *memConfigs) PreferredForPatient(_ context.Context, patientID string) (*persistence.ScoringConfigRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.prefs[patientID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	row := m.configs[id]
	return &row, nil
}

func (m *memConfigs) Insert(_ context.Context, row *persistence.ScoringConfigRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.configs {
		if existing.Version == row.Version {
			return persistence.ErrDuplicateVersion
		}
	}
	if row.ID == "" {
		row.ID = fmt.Sprintf("cfg-%d", len(m.configs)+1)
	}
	row.CreatedAt = time.Now()
	m.configs[row.ID] = *row
	return nil
}

func (m *memConfigs) EnsureSeed(ctx context.Context, seed persistence.ScoringConfigRow) (*persistence.ScoringConfigRow, error) {
	if active, err := m.Active(ctx); err == nil {
		return active, nil
	}
	seed.Active = true
	if err := m.Insert(ctx, &seed); err != nil {
		return nil, err
	}
	return &seed, nil
}

// memBlob is the in-memory object store.
type memBlob struct {
	objects     map[string][]byte
	unavailable bool
}

func (b *memBlob) Fetch(_ context.Context, bucket, objectName string) ([]byte, error) {
	if b.unavailable {
		return nil, storage.ErrUnavailable
	}
	data, ok := b.objects[bucket+"/"+objectName]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}
