package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"task-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, filter domain.UserFilter) ([]domain.User, error)
	Count(ctx context.Context, filter domain.UserFilter) (int, error)
	Update(ctx context.Context, id int64, fields domain.UpdateUserRequest) (before, after *domain.User, err error)
	Delete(ctx context.Context, id int64) error
}

type UserService struct {
	userRepository UserRepository
	notifier       ChangeNotifier
}

func NewUserService(userRepository UserRepository, notifier ChangeNotifier) *UserService {
	return &UserService{
		userRepository: userRepository,
		notifier:       notifierOrNoop(notifier),
	}
}

func (s *UserService) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	if err := domain.ValidateUserName(req.Name); err != nil {
		return nil, err
	}
	if err := domain.ValidateUserEmail(req.Email); err != nil {
		return nil, err
	}
	if req.Role == "" {
		req.Role = domain.RoleUser
	}
	if !req.Role.Valid() {
		return nil, domain.ErrInvalidUserRole
	}

	existing, err := s.userRepository.GetByEmail(ctx, req.Email)
	if err == nil && existing != nil {
		return nil, domain.ErrUserEmailExists
	}
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	user := &domain.User{
		Name:  req.Name,
		Email: req.Email,
		Role:  req.Role,
	}

	if err := s.userRepository.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserEmailExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.notifier.Created(ctx, user)

	log.WithFields(log.Fields{
		"user_id": user.ID,
		"email":   user.Email,
	}).Info("User successfully created")

	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}

	user, err := s.userRepository.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context, filter domain.UserFilter) (*domain.UserPage, error) {
	filter.Paging = filter.Paging.Normalized()
	if filter.PerPage > domain.MaxPerPage {
		filter.PerPage = domain.MaxPerPage
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	total, err := s.userRepository.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	users, err := s.userRepository.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return &domain.UserPage{Users: users, Paging: filter.Paging, Total: total}, nil
}

func (s *UserService) UpdateUser(ctx context.Context, id int64, req domain.UpdateUserRequest) (*domain.User, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := domain.ValidateUserName(name); err != nil {
			return nil, err
		}
		req.Name = &name
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if err := domain.ValidateUserEmail(email); err != nil {
			return nil, err
		}
		req.Email = &email
	}
	if req.Role != nil && !req.Role.Valid() {
		return nil, domain.ErrInvalidUserRole
	}

	before, after, err := s.userRepository.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.notifier.Updated(ctx, before, after)

	log.WithField("user_id", id).Info("User successfully updated")
	return after, nil
}

// DeleteUser announces the deletion while the user is still readable, then
// removes the row.
func (s *UserService) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return domain.ErrInvalidID
	}

	user, err := s.userRepository.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.notifier.Deleting(ctx, user)

	if err := s.userRepository.Delete(ctx, id); err != nil {
		log.WithError(err).WithField("user_id", id).Error("Failed to delete user")
		return fmt.Errorf("failed to delete user: %w", err)
	}

	log.WithField("user_id", id).Info("User successfully deleted")
	return nil
}
