package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/userforge/userhub/internal/bus"
	"github.com/userforge/userhub/internal/cache"
	"github.com/userforge/userhub/internal/domain"
	"github.com/userforge/userhub/internal/repo"
)

func newTestService(t *testing.T) (*UserService, *repo.UserRepository, *bus.InMemoryBus, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	c, err := cache.New(cache.Options{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	r := repo.NewUserRepository(db)
	if err := r.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.NewInMemoryBus()
	s, err := NewUserService(r, c, b, nil, time.Minute)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		_ = c.Close()
		mr.Close()
	})
	return s, r, b, context.Background()
}

func create(t *testing.T, s *UserService, ctx context.Context, username, email string) *domain.User {
	t.Helper()
	u, err := s.Create(ctx, domain.CreateUser{
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create %s: %v", username, err)
	}
	return u
}

func TestCreateEnforcesUniqueness(t *testing.T) {
	s, _, _, ctx := newTestService(t)
	create(t, s, ctx, "alice", "alice@example.com")

	_, err := s.Create(ctx, domain.CreateUser{Username: "alice", Email: "x@example.com", PasswordHash: "h"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate username: expected ErrUserExists, got %v", err)
	}
	_, err = s.Create(ctx, domain.CreateUser{Username: "bob", Email: "alice@example.com", PasswordHash: "h"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate email: expected ErrUserExists, got %v", err)
	}
}

func TestGetByIDServesFromCache(t *testing.T) {
	s, r, _, ctx := newTestService(t)
	u := create(t, s, ctx, "alice", "alice@example.com")

	first, err := s.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if first.PasswordHash != "hash" {
		t.Fatal("cached entity must keep the password hash")
	}

	// remove the row behind the service's back; the cached copy keeps
	// serving until an invalidating mutation happens
	if _, err := r.Delete(ctx, u.ID); err != nil {
		t.Fatalf("raw delete: %v", err)
	}
	second, err := s.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if second.Username != "alice" {
		t.Fatalf("expected cached user, got %+v", second)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s, _, _, ctx := newTestService(t)
	if _, err := s.GetByID(ctx, 404); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateInvalidatesCaches(t *testing.T) {
	s, _, _, ctx := newTestService(t)
	u := create(t, s, ctx, "alice", "alice@example.com")

	if _, err := s.GetByID(ctx, u.ID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	full := "Alice A."
	if _, err := s.Update(ctx, u.ID, domain.UpdateUser{FullName: &full}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.FullName != full {
		t.Fatalf("stale read after update: %+v", got)
	}
}

func TestUpdateUniquenessChecks(t *testing.T) {
	s, _, _, ctx := newTestService(t)
	create(t, s, ctx, "alice", "alice@example.com")
	b := create(t, s, ctx, "bob", "bob@example.com")

	taken := "alice"
	if _, err := s.Update(ctx, b.ID, domain.UpdateUser{Username: &taken}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	// renaming to your own current name is not a conflict
	own := "bob"
	if _, err := s.Update(ctx, b.ID, domain.UpdateUser{Username: &own}); err != nil {
		t.Fatalf("self rename: %v", err)
	}
}

func TestListIsCachedAndInvalidated(t *testing.T) {
	s, r, _, ctx := newTestService(t)
	create(t, s, ctx, "alice", "alice@example.com")

	page, err := s.List(ctx, domain.ListFilter{Limit: 10})
	if err != nil || len(page) != 1 {
		t.Fatalf("first list: %v (%d users)", err, len(page))
	}

	// a row added behind the service's back is invisible until a
	// service-level mutation clears the list namespace
	if _, err := r.Create(ctx, domain.CreateUser{Username: "eve", Email: "eve@example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("raw create: %v", err)
	}
	page, err = s.List(ctx, domain.ListFilter{Limit: 10})
	if err != nil || len(page) != 1 {
		t.Fatalf("cached list: %v (%d users)", err, len(page))
	}

	create(t, s, ctx, "carol", "carol@example.com")
	page, err = s.List(ctx, domain.ListFilter{Limit: 10})
	if err != nil || len(page) != 3 {
		t.Fatalf("list after invalidation: %v (%d users)", err, len(page))
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	s, _, b, ctx := newTestService(t)

	ch, err := b.Subscribe(ctx, EventsTopic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	u := create(t, s, ctx, "alice", "alice@example.com")
	expectEvent(t, ch, u.ID, "created")

	if _, err := s.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	expectEvent(t, ch, u.ID, "updated")

	if err := s.Delete(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	expectEvent(t, ch, u.ID, "deleted")
}

func expectEvent(t *testing.T, ch chan []byte, id uint, action string) {
	t.Helper()
	select {
	case msg := <-ch:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.ID != id || ev.Action != action {
			t.Fatalf("expected {%d %s}, got %+v", id, action, ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %s event", action)
	}
}

func TestDeleteMissingUser(t *testing.T) {
	s, _, _, ctx := newTestService(t)
	if err := s.Delete(ctx, 404); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestExists(t *testing.T) {
	s, _, _, ctx := newTestService(t)
	u := create(t, s, ctx, "alice", "alice@example.com")

	ok, err := s.Exists(ctx, u.ID)
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
	ok, err = s.Exists(ctx, 404)
	if err != nil || ok {
		t.Fatalf("missing user must not exist: %v %v", ok, err)
	}
}
