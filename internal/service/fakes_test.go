package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"task-service/internal/domain"
)

type memoryTaskRepo struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]domain.Task
}

func newMemoryTaskRepo(firstID int64) *memoryTaskRepo {
	return &memoryTaskRepo{nextID: firstID, tasks: map[int64]domain.Task{}}
}

func (r *memoryTaskRepo) Create(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task.ID = r.nextID
	r.nextID++
	task.CreatedAt = time.Now().UTC()
	task.UpdatedAt = task.CreatedAt
	r.tasks[task.ID] = *task
	return nil
}

func (r *memoryTaskRepo) GetByID(_ context.Context, id int64) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return &task, nil
}

func (r *memoryTaskRepo) matching(filter domain.TaskFilter) []domain.Task {
	out := []domain.Task{}
	for _, task := range r.tasks {
		if filter.UserID != nil && (task.UserID == nil || *task.UserID != *filter.UserID) {
			continue
		}
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.Priority != nil && task.Priority != *filter.Priority {
			continue
		}
		if filter.DueFrom != nil && (task.DueDate == nil || task.DueDate.Before(*filter.DueFrom)) {
			continue
		}
		if filter.DueTo != nil && (task.DueDate == nil || task.DueDate.After(*filter.DueTo)) {
			continue
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryTaskRepo) List(_ context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.matching(filter)
	if filter.Offset() >= len(out) {
		return []domain.Task{}, nil
	}
	out = out[filter.Offset():]
	if len(out) > filter.PerPage {
		out = out[:filter.PerPage]
	}
	return out, nil
}

func (r *memoryTaskRepo) Count(_ context.Context, filter domain.TaskFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *memoryTaskRepo) Update(_ context.Context, id int64, fields domain.UpdateTaskFields) (*domain.Task, *domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.tasks[id]
	if !ok {
		return nil, nil, domain.ErrTaskNotFound
	}
	before := current
	if fields.UserID != nil {
		current.UserID = fields.UserID
	}
	if fields.Title != nil {
		current.Title = *fields.Title
	}
	if fields.Description != nil {
		current.Description = *fields.Description
	}
	if fields.Status != nil {
		current.Status = *fields.Status
	}
	if fields.Priority != nil {
		current.Priority = *fields.Priority
	}
	if fields.ClearDueDate {
		current.DueDate = nil
	} else if fields.DueDate != nil {
		current.DueDate = fields.DueDate
	}
	current.UpdatedAt = time.Now().UTC()
	r.tasks[id] = current
	after := current
	return &before, &after, nil
}

func (r *memoryTaskRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return domain.ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

func (r *memoryTaskRepo) has(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok
}

type memoryUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{nextID: 1, users: map[int64]domain.User{}}
}

func (r *memoryUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return domain.ErrUserEmailExists
		}
	}
	user.ID = r.nextID
	r.nextID++
	r.users[user.ID] = *user
	return nil
}

func (r *memoryUserRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memoryUserRepo) matching(filter domain.UserFilter) []domain.User {
	out := []domain.User{}
	for _, u := range r.users {
		if filter.Name != nil && u.Name != *filter.Name {
			continue
		}
		if filter.Email != nil && u.Email != *filter.Email {
			continue
		}
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryUserRepo) List(_ context.Context, filter domain.UserFilter) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.matching(filter)
	if filter.Offset() >= len(out) {
		return []domain.User{}, nil
	}
	out = out[filter.Offset():]
	if len(out) > filter.PerPage {
		out = out[:filter.PerPage]
	}
	return out, nil
}

func (r *memoryUserRepo) Count(_ context.Context, filter domain.UserFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *memoryUserRepo) Update(_ context.Context, id int64, fields domain.UpdateUserRequest) (*domain.User, *domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.users[id]
	if !ok {
		return nil, nil, domain.ErrUserNotFound
	}
	before := current
	if fields.Name != nil {
		current.Name = *fields.Name
	}
	if fields.Email != nil {
		current.Email = *fields.Email
	}
	if fields.Role != nil {
		current.Role = *fields.Role
	}
	r.users[id] = current
	after := current
	return &before, &after, nil
}

func (r *memoryUserRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

// memoryAuditStore keeps records in insertion order. When failWith is set
// every Append is rejected.
type memoryAuditStore struct {
	mu       sync.Mutex
	records  []domain.AuditRecord
	failWith error
	queryErr error
}

func (s *memoryAuditStore) Append(_ context.Context, record *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	record.ID = int64(len(s.records) + 1)
	record.CreatedAt = time.Now().UTC()
	s.records = append(s.records, *record)
	return nil
}

func (s *memoryAuditStore) Query(_ context.Context, filter domain.AuditFilter) (*domain.AuditPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	records := []domain.AuditRecord{}
	start := filter.Offset()
	for i := start; i < len(s.records) && i < start+filter.PerPage; i++ {
		records = append(records, s.records[i])
	}
	return &domain.AuditPage{Records: records, Filter: filter, Total: len(s.records)}, nil
}

func (s *memoryAuditStore) GetByID(_ context.Context, id int64) (*domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || int(id) > len(s.records) {
		return nil, domain.ErrAuditLogNotFound
	}
	record := s.records[id-1]
	return &record, nil
}

func (s *memoryAuditStore) all() []domain.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

type notification struct {
	kind   string
	before domain.Auditable
	after  domain.Auditable
}

// recordingNotifier remembers every call. onDeleting, when set, runs inside
// Deleting so tests can look at the store at that moment.
type recordingNotifier struct {
	mu         sync.Mutex
	calls      []notification
	onDeleting func(entity domain.Auditable)
}

func (n *recordingNotifier) Created(_ context.Context, entity domain.Auditable) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{kind: "created", after: entity})
}

func (n *recordingNotifier) Updated(_ context.Context, before, after domain.Auditable) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{kind: "updated", before: before, after: after})
}

func (n *recordingNotifier) Deleting(_ context.Context, entity domain.Auditable) {
	if n.onDeleting != nil {
		n.onDeleting(entity)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{kind: "deleting", before: entity})
}
