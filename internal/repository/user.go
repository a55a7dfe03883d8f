package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"thesis_messaging/internal/domain"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

// UserRepository reads portal users. Profiles are written elsewhere.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.User, error)
	Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]*domain.User, error)
}

type userRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewUserRepository(db *pgxpool.Pool, log logger.Logger) UserRepository {
	return &userRepository{db: db, log: log}
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, display_name, role, avatar_url
		FROM users
		WHERE id = $1
	`

	user := &domain.User{}
	err := r.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.DisplayName, &user.Role, &user.AvatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		r.log.Error("Failed to get user by ID", "error", err)
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.User, error) {
	users := make(map[uuid.UUID]*domain.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, display_name, role, avatar_url FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		r.log.Error("Failed to get users", "error", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Role, &user.AvatarURL); err != nil {
			r.log.Error("Failed to scan user", "error", err)
			return nil, err
		}
		users[user.ID] = user
	}
	return users, rows.Err()
}

func (r *userRepository) Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]*domain.User, error) {
	// Экранируем спецсимволы LIKE
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"

	rows, err := r.db.Query(ctx, `
		SELECT id, display_name, role, avatar_url
		FROM users
		WHERE display_name ILIKE $1 AND id <> $2
		ORDER BY display_name
		LIMIT $3
	`, pattern, exclude, limit)
	if err != nil {
		r.log.Error("Failed to search users", "error", err)
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Role, &user.AvatarURL); err != nil {
			r.log.Error("Failed to scan user", "error", err)
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// MemoryUserRepository is an in-process directory for tests and local runs.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

func NewMemoryUserRepository(users ...*domain.User) *MemoryUserRepository {
	repo := &MemoryUserRepository{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range users {
		repo.Put(u)
	}
	return repo
}

// LoadMemoryUsers reads a JSON array of users, the directory used when the
// server runs without a database.
func LoadMemoryUsers(path string) (*MemoryUserRepository, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var users []*domain.User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	for i, u := range users {
		if u.ID == uuid.Nil || strings.TrimSpace(u.DisplayName) == "" {
			return nil, fmt.Errorf("users file entry %d: id and display_name are required", i)
		}
		if !domain.IsValidRole(u.Role) {
			return nil, fmt.Errorf("users file entry %d: unknown role %q", i, u.Role)
		}
	}
	return NewMemoryUserRepository(users...), nil
}

// Put adds or replaces a user.
func (r *MemoryUserRepository) Put(user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *user
	r.users[user.ID] = &copied
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *MemoryUserRepository) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]*domain.User, len(ids))
	for _, id := range ids {
		if user, ok := r.users[id]; ok {
			copied := *user
			out[id] = &copied
		}
	}
	return out, nil
}

func (r *MemoryUserRepository) Search(_ context.Context, query string, exclude uuid.UUID, limit int) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(query))
	var out []*domain.User
	for _, user := range r.users {
		if user.ID == exclude {
			continue
		}
		if strings.Contains(strings.ToLower(user.DisplayName), needle) {
			copied := *user
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
