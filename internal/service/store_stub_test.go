package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kkkkikiki/studyping/internal/model"
)

// stubStore is an in-memory Store. WithTx snapshots every table and restores
// the snapshot when fn fails.
type stubStore struct {
	mu          sync.Mutex
	nextID      int64
	studies     map[int64]model.Study
	templates   map[int64]model.PingTemplate
	enrollments map[int64]model.Enrollment
	pings       map[int64]model.Ping

	// failCreatePings fails CreatePings for the given template id.
	failCreatePings int64
}

func newStubStore() *stubStore {
	return &stubStore{
		studies:     map[int64]model.Study{},
		templates:   map[int64]model.PingTemplate{},
		enrollments: map[int64]model.Enrollment{},
		pings:       map[int64]model.Ping{},
	}
}

func (s *stubStore) id() int64 {
	s.nextID++
	return s.nextID
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *stubStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	studies, templates := copyMap(s.studies), copyMap(s.templates)
	enrollments, pings := copyMap(s.enrollments), copyMap(s.pings)
	nextID := s.nextID
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.studies, s.templates, s.enrollments, s.pings = studies, templates, enrollments, pings
		s.nextID = nextID
		s.mu.Unlock()
		return err
	}
	return nil
}

// seed helpers

func (s *stubStore) addStudy(st model.Study) *model.Study {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.ID = s.id()
	s.studies[st.ID] = st
	return &st
}

func (s *stubStore) addTemplate(t model.PingTemplate) *model.PingTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	s.templates[t.ID] = t
	return &t
}

func (s *stubStore) addEnrollment(e model.Enrollment) *model.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	s.enrollments[e.ID] = e
	return &e
}

func (s *stubStore) addPing(p model.Ping) *model.Ping {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	s.pings[p.ID] = p
	return &p
}

func (s *stubStore) ping(id int64) model.Ping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings[id]
}

func (s *stubStore) enrollment(id int64) model.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrollments[id]
}

func (s *stubStore) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pings)
}

// studies

func (s *stubStore) GetStudy(ctx context.Context, id int64, includeDeleted bool) (*model.Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.studies[id]
	if !ok || (!includeDeleted && st.DeletedAt != nil) {
		return nil, model.ErrNotFound
	}
	return &st, nil
}

func (s *stubStore) CreateStudy(ctx context.Context, st *model.Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.ID = s.id()
	s.studies[st.ID] = *st
	return nil
}

func (s *stubStore) GetStudyByCode(ctx context.Context, code string, includeDeleted bool) (*model.Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.studies {
		if st.Code == code && (includeDeleted || st.DeletedAt == nil) {
			return &st, nil
		}
	}
	return nil, model.ErrNotFound
}

// templates

func (s *stubStore) GetTemplate(ctx context.Context, id int64, includeDeleted bool) (*model.PingTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok || (!includeDeleted && t.DeletedAt != nil) {
		return nil, model.ErrNotFound
	}
	return &t, nil
}

func (s *stubStore) ListTemplatesByStudy(ctx context.Context, studyID int64, includeDeleted bool) ([]*model.PingTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PingTemplate
	for _, t := range s.templates {
		if t.StudyID == studyID && (includeDeleted || t.DeletedAt == nil) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) CreateTemplate(ctx context.Context, t *model.PingTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	s.templates[t.ID] = *t
	return nil
}

func (s *stubStore) UpdateTemplateSchedule(ctx context.Context, id int64, sched model.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok || t.DeletedAt != nil {
		return model.ErrNotFound
	}
	t.Schedule = sched
	s.templates[id] = t
	return nil
}

func (s *stubStore) SoftDeleteTemplate(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return model.ErrNotFound
	}
	t.DeletedAt = &at
	s.templates[id] = t
	for pid, p := range s.pings {
		if p.PingTemplateID == id && p.DeletedAt == nil {
			p.DeletedAt = &at
			s.pings[pid] = p
		}
	}
	return nil
}

// enrollments

func (s *stubStore) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	s.enrollments[e.ID] = *e
	return nil
}

func (s *stubStore) GetEnrollment(ctx context.Context, id int64, includeDeleted bool) (*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok || (!includeDeleted && e.DeletedAt != nil) {
		return nil, model.ErrNotFound
	}
	return &e, nil
}

func (s *stubStore) GetEnrollmentByLinkCode(ctx context.Context, code string) (*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.LinkCode != nil && *e.LinkCode == code && e.DeletedAt == nil {
			return &e, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *stubStore) LinkCodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.LinkCode != nil && *e.LinkCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) MarkLinked(ctx context.Context, id int64, recipient string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok || e.LinkCodeUsed {
		return model.ErrNotFound
	}
	e.TelegramID = &recipient
	e.LinkCodeUsed = true
	e.Enrolled = true
	e.UpdatedAt = at
	s.enrollments[id] = e
	return nil
}

func (s *stubStore) SetDashboardCode(ctx context.Context, id int64, code string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return model.ErrNotFound
	}
	e.DashboardOTP = &code
	e.DashboardOTPExpireTS = &expires
	s.enrollments[id] = e
	return nil
}

func (s *stubStore) SetCompletion(ctx context.Context, id int64, ratio float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return model.ErrNotFound
	}
	e.PrCompleted = ratio
	s.enrollments[id] = e
	return nil
}

func (s *stubStore) ClearRecipient(ctx context.Context, recipient string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.enrollments {
		if e.TelegramID != nil && *e.TelegramID == recipient {
			e.TelegramID = nil
			s.enrollments[id] = e
			n++
		}
	}
	return n, nil
}

func (s *stubStore) SoftDeleteEnrollment(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return model.ErrNotFound
	}
	e.DeletedAt = &at
	s.enrollments[id] = e
	for pid, p := range s.pings {
		if p.EnrollmentID == id && p.DeletedAt == nil {
			p.DeletedAt = &at
			s.pings[pid] = p
		}
	}
	return nil
}

// pings

func (s *stubStore) CreatePings(ctx context.Context, pings []*model.Ping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pings {
		if s.failCreatePings != 0 && p.PingTemplateID == s.failCreatePings {
			return errors.New("insert failed")
		}
		p.ID = s.id()
		s.pings[p.ID] = *p
	}
	return nil
}

func (s *stubStore) GetPing(ctx context.Context, id int64, includeDeleted bool) (*model.Ping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pings[id]
	if !ok || (!includeDeleted && p.DeletedAt != nil) {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

func (s *stubStore) ListPingsByEnrollment(ctx context.Context, enrollmentID int64, includeDeleted bool) ([]*model.Ping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Ping
	for _, p := range s.pings {
		if p.EnrollmentID == enrollmentID && (includeDeleted || p.DeletedAt == nil) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) RecordClick(ctx context.Context, id int64, at time.Time) (*model.Ping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pings[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if p.FirstClickedTS == nil {
		p.FirstClickedTS = &at
	}
	p.LastClickedTS = &at
	s.pings[id] = p
	return &p, nil
}

// deliverable mirrors the joins of the SQL claim queries.
func (s *stubStore) deliverable(p model.Ping, now time.Time) bool {
	if p.DeletedAt != nil {
		return false
	}
	if p.ExpireTS != nil && !p.ExpireTS.After(now) {
		return false
	}
	e, ok := s.enrollments[p.EnrollmentID]
	if !ok || e.DeletedAt != nil || !e.Enrolled || !e.Linked() {
		return false
	}
	if t, ok := s.templates[p.PingTemplateID]; !ok || t.DeletedAt != nil {
		return false
	}
	if st, ok := s.studies[p.StudyID]; !ok || st.DeletedAt != nil {
		return false
	}
	return true
}

func (s *stubStore) claim(now time.Time, limit int, eligible func(model.Ping) bool, stamp func(*model.Ping)) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []model.Ping
	for _, p := range s.pings {
		if eligible(p) && s.deliverable(p, now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}
	ids := make([]int64, 0, len(due))
	for _, p := range due {
		stamp(&p)
		s.pings[p.ID] = p
		ids = append(ids, p.ID)
	}
	return ids
}

func (s *stubStore) ClaimDuePings(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return s.claim(now, limit, func(p model.Ping) bool {
		return p.SentTS == nil && !p.ScheduledTS.After(now)
	}, func(p *model.Ping) {
		p.SentTS = &now
	}), nil
}

func (s *stubStore) ReleasePing(ctx context.Context, id int64, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pings[id]
	if p.SentTS != nil && p.SentTS.Equal(claimedAt) {
		p.SentTS = nil
		s.pings[id] = p
	}
	return nil
}

func (s *stubStore) MarkPingSent(ctx context.Context, id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pings[id]
	p.Message = &message
	s.pings[id] = p
	return nil
}

func (s *stubStore) ClaimDueReminders(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return s.claim(now, limit, func(p model.Ping) bool {
		return p.SentTS != nil && p.SentTS.Before(now) && p.ReminderSentTS == nil &&
			p.FirstClickedTS == nil && p.ReminderTS != nil && !p.ReminderTS.After(now)
	}, func(p *model.Ping) {
		p.ReminderSentTS = &now
	}), nil
}

func (s *stubStore) ReleaseReminder(ctx context.Context, id int64, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pings[id]
	if p.ReminderSentTS != nil && p.ReminderSentTS.Equal(claimedAt) {
		p.ReminderSentTS = nil
		s.pings[id] = p
	}
	return nil
}

// stubSender records deliveries and fails per recipient.
type stubSender struct {
	mu    sync.Mutex
	sent  []stubMessage
	fail  map[string]error
	calls int
}

type stubMessage struct {
	recipient string
	text      string
}

func (s *stubSender) Send(ctx context.Context, recipient, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.fail[recipient]; err != nil {
		return err
	}
	s.sent = append(s.sent, stubMessage{recipient: recipient, text: text})
	return nil
}

func (s *stubSender) messages() []stubMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stubMessage(nil), s.sent...)
}

// fixedClock returns a Clock that reads *t.
func fixedClock(t *time.Time) Clock {
	return func() time.Time { return *t }
}
