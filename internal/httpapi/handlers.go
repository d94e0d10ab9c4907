package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/userforge/userhub/internal/domain"
	"github.com/userforge/userhub/internal/service"
)

// envelope is the uniform response body.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Code: status, Message: http.StatusText(status), Data: data}); err != nil {
		s.log.Warn("httpapi: response encode failed", zap.Error(err))
	}
}

func (s *Server) respondErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Code: status, Message: msg})
}

// fail maps service errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		s.respondErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrUserExists):
		s.respondErr(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("httpapi: request failed", zap.Error(err))
		s.respondErr(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	return uint(id), err == nil && id > 0
}

type createRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	IsActive    *bool  `json:"is_active"`
	IsSuperuser bool   `json:"is_superuser"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		s.respondErr(w, http.StatusBadRequest, "username, email and password are required")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.fail(w, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	u, err := s.svc.Create(r.Context(), domain.CreateUser{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		IsActive:     active,
		IsSuperuser:  req.IsSuperuser,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, u)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.respondErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	u, err := s.svc.GetByID(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, u)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ListFilter{}
	f.Skip, _ = strconv.Atoi(q.Get("skip"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if v := q.Get("is_active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondErr(w, http.StatusBadRequest, "invalid is_active")
			return
		}
		f.IsActive = &b
	}
	if v := q.Get("is_superuser"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondErr(w, http.StatusBadRequest, "invalid is_superuser")
			return
		}
		f.IsSuperuser = &b
	}
	users, err := s.svc.List(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if users == nil {
		users = []*domain.User{}
	}
	s.respond(w, http.StatusOK, users)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		s.respondErr(w, http.StatusBadRequest, "ids parameter is required")
		return
	}
	var ids []uint
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			s.respondErr(w, http.StatusBadRequest, "invalid id in ids")
			return
		}
		ids = append(ids, uint(id))
	}
	users, err := s.svc.BatchGetByIDs(r.Context(), ids)
	if err != nil {
		s.fail(w, err)
		return
	}
	if users == nil {
		users = []*domain.User{}
	}
	s.respond(w, http.StatusOK, users)
}

type updateRequest struct {
	Username    *string `json:"username"`
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	FullName    *string `json:"full_name"`
	IsActive    *bool   `json:"is_active"`
	IsSuperuser *bool   `json:"is_superuser"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.respondErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	in := domain.UpdateUser{
		Username:    req.Username,
		Email:       req.Email,
		FullName:    req.FullName,
		IsActive:    req.IsActive,
		IsSuperuser: req.IsSuperuser,
	}
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.fail(w, err)
			return
		}
		h := string(hash)
		in.PasswordHash = &h
	}
	u, err := s.svc.Update(r.Context(), id, in)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, u)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.respondErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			s.respondErr(w, http.StatusBadRequest, "invalid user id")
			return
		}
		u, err := s.svc.SetActive(r.Context(), id, active)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, u)
	}
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.respondErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	exists, err := s.svc.Exists(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			s.respondErr(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
