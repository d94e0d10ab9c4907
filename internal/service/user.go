// Package service implements the user application service: business
// rules plus the caching and invalidation discipline around the
// repository.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/userforge/userhub/internal/bus"
	"github.com/userforge/userhub/internal/cache"
	"github.com/userforge/userhub/internal/domain"
	"github.com/userforge/userhub/internal/repo"
)

var (
	// ErrUserExists means the username or email is already taken.
	ErrUserExists = errors.New("service: user already exists")
	// ErrUserNotFound means no user matches the given identifier.
	ErrUserNotFound = errors.New("service: user not found")
)

// EventsTopic is the bus topic carrying user-change events.
const EventsTopic = "user-events"

// Event is the payload published on EventsTopic.
type Event struct {
	ID     uint   `json:"id"`
	Action string `json:"action"` // created, updated, deleted
}

const (
	listNamespace = "user:list"
	listPattern   = listNamespace + ":*"
)

func userKey(id uint) string { return fmt.Sprintf("user:id:%d", id) }

// UserService coordinates the repository, the distributed cache, a
// small in-process hot cache and the event bus.
type UserService struct {
	repo  *repo.UserRepository
	cache *cache.Client
	local *ristretto.Cache
	bus   bus.Bus
	log   *zap.Logger
	ttl   time.Duration
}

// NewUserService wires a UserService. ttl governs cached reads; a
// non-positive ttl defaults to five minutes.
func NewUserService(r *repo.UserRepository, c *cache.Client, b bus.Bus, log *zap.Logger, ttl time.Duration) (*UserService, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	local, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 22,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &UserService{repo: r, cache: c, local: local, bus: b, log: log, ttl: ttl}, nil
}

// Close releases the in-process cache.
func (s *UserService) Close() {
	s.local.Close()
}

// Create adds a new user after checking username and email uniqueness.
// The check-then-insert runs under a distributed lock keyed by the
// username so two concurrent creates of the same name cannot both pass
// the check.
func (s *UserService) Create(ctx context.Context, in domain.CreateUser) (*domain.User, error) {
	return cache.WithLock(ctx, s.cache, "user:create", in.Username, cache.DefaultLockTTL, cache.LockStrict,
		func(ctx context.Context) (*domain.User, error) {
			if taken, err := s.repo.ExistsByUsername(ctx, in.Username); err != nil {
				return nil, err
			} else if taken {
				return nil, fmt.Errorf("%w: username %s", ErrUserExists, in.Username)
			}
			if taken, err := s.repo.ExistsByEmail(ctx, in.Email); err != nil {
				return nil, err
			} else if taken {
				return nil, fmt.Errorf("%w: email %s", ErrUserExists, in.Email)
			}

			u, err := s.repo.Create(ctx, in)
			if err != nil {
				return nil, err
			}
			s.invalidate(ctx, u.ID, "created")
			return u, nil
		})
}

// GetByID loads a user, trying the in-process cache, then Redis, then
// the repository. Repository hits are written back to both tiers.
func (s *UserService) GetByID(ctx context.Context, id uint) (*domain.User, error) {
	key := userKey(id)
	if v, ok := s.local.Get(key); ok {
		if u, ok := v.(*domain.User); ok {
			return u, nil
		}
	}

	var cached domain.User
	if s.cache.GetInto(ctx, key, &cached) {
		s.local.SetWithTTL(key, &cached, 1, s.ttl)
		return &cached, nil
	}

	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, u, s.ttl)
	s.local.SetWithTTL(key, u, 1, s.ttl)
	return u, nil
}

// GetByUsername loads a user by username, bypassing the caches.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: username %s", ErrUserNotFound, username)
	}
	return u, err
}

// GetByEmail loads a user by email, bypassing the caches.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: email %s", ErrUserNotFound, email)
	}
	return u, err
}

// BatchGetByIDs loads multiple users by ID; missing IDs are skipped.
func (s *UserService) BatchGetByIDs(ctx context.Context, ids []uint) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.repo.BatchGetByIDs(ctx, ids)
}

// List returns a page of users matching the filter. Pages are cached
// under a digest of the filter and evicted wholesale on any mutation.
func (s *UserService) List(ctx context.Context, f domain.ListFilter) ([]*domain.User, error) {
	args := []any{f.Skip, f.Limit}
	if f.IsActive != nil {
		args = append(args, "active", *f.IsActive)
	}
	if f.IsSuperuser != nil {
		args = append(args, "super", *f.IsSuperuser)
	}
	return cache.Cached(ctx, s.cache, listNamespace, args, s.ttl, true,
		func(ctx context.Context) ([]*domain.User, error) {
			return s.repo.ListFiltered(ctx, f)
		})
}

// Update applies a partial update after re-checking uniqueness for any
// changed username or email.
func (s *UserService) Update(ctx context.Context, id uint, in domain.UpdateUser) (*domain.User, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Username != nil && *in.Username != existing.Username {
		if taken, err := s.repo.ExistsByUsername(ctx, *in.Username); err != nil {
			return nil, err
		} else if taken {
			return nil, fmt.Errorf("%w: username %s", ErrUserExists, *in.Username)
		}
	}
	if in.Email != nil && *in.Email != existing.Email {
		if taken, err := s.repo.ExistsByEmail(ctx, *in.Email); err != nil {
			return nil, err
		} else if taken {
			return nil, fmt.Errorf("%w: email %s", ErrUserExists, *in.Email)
		}
	}

	u, err := s.repo.Update(ctx, id, in)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id, "updated")
	return u, nil
}

// SetActive activates or deactivates a user.
func (s *UserService) SetActive(ctx context.Context, id uint, active bool) (*domain.User, error) {
	u, err := s.repo.SetActive(ctx, id, active)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id, "updated")
	return u, nil
}

// Delete removes a user.
func (s *UserService) Delete(ctx context.Context, id uint) error {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	s.invalidate(ctx, id, "deleted")
	return nil
}

// Exists reports whether a user with this ID exists.
func (s *UserService) Exists(ctx context.Context, id uint) (bool, error) {
	if _, ok := s.local.Get(userKey(id)); ok {
		return true, nil
	}
	if s.cache.Exists(ctx, userKey(id)) {
		return true, nil
	}
	return s.repo.ExistsByID(ctx, id)
}

// invalidate drops every cached view of a user and announces the
// change on the bus. Cache trouble here is already logged and degraded
// by the cache client; the mutation itself has succeeded.
func (s *UserService) invalidate(ctx context.Context, id uint, action string) {
	key := userKey(id)
	s.local.Del(key)
	s.cache.Delete(ctx, key)
	s.cache.ClearPattern(ctx, listPattern, cache.DefaultScanBatch)

	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(Event{ID: id, Action: action})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, EventsTopic, payload); err != nil {
		s.log.Warn("service: event publish failed",
			zap.Uint("user_id", id), zap.String("action", action), zap.Error(err))
	}
}
