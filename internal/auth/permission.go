package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/cache"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// Permission is an account tier. Higher values include lower ones.
type Permission int

const (
	Demo Permission = iota + 1
	Starter
	Professional
	Admin
)

// ErrUnknownPermission is returned when a tier name is not recognised.
var ErrUnknownPermission = errors.New("auth: unknown permission")

var permissionNames = map[Permission]string{
	Demo:         "Demo",
	Starter:      "Starter",
	Professional: "Professional",
	Admin:        "Admin",
}

func (p Permission) String() string {
	if s, ok := permissionNames[p]; ok {
		return s
	}
	return "Demo"
}

// AtLeast reports whether p includes required.
func (p Permission) AtLeast(required Permission) bool {
	return p >= required
}

// ParsePermission maps a tier name to its level. Unknown names are Demo.
func ParsePermission(s string) Permission {
	p, err := LookupPermission(s)
	if err != nil {
		return Demo
	}
	return p
}

// LookupPermission is the strict form of ParsePermission.
func LookupPermission(s string) (Permission, error) {
	for p, name := range permissionNames {
		if name == s {
			return p, nil
		}
	}
	return Demo, fmt.Errorf("%w: %q", ErrUnknownPermission, s)
}

// PermissionTTL bounds how long a tier change takes to reach RequireAuth
// when it is not made through Permissions.Set.
const PermissionTTL = 5 * time.Minute

// Permissions caches per-user tiers read from the users table.
type Permissions struct {
	db    *db.DB
	cache *cache.Keyed[int, Permission]
}

// NewPermissions returns a lookup cached for PermissionTTL.
func NewPermissions(database *db.DB, opts ...cache.Option) *Permissions {
	p := &Permissions{db: database}
	p.cache = cache.NewKeyed(PermissionTTL, p.load, opts...)
	return p
}

func (p *Permissions) load(ctx context.Context, userID int) (Permission, error) {
	var name string
	err := p.db.QueryRowContext(ctx, `SELECT permission FROM users WHERE id=?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return Demo, fmt.Errorf("auth.Permissions: user %d: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return Demo, fmt.Errorf("auth.Permissions: %w", err)
	}
	return ParsePermission(name), nil
}

// Lookup returns the user's tier. Lookup failures fall back to the last
// known tier, or Demo.
func (p *Permissions) Lookup(ctx context.Context, userID int) Permission {
	perm, err := p.cache.Get(ctx, userID)
	if err != nil {
		log.Printf("auth.Permissions.Lookup: user %d: %v", userID, err)
		if errors.Is(err, cache.ErrStale) {
			return perm
		}
		return Demo
	}
	return perm
}

// Set stores a new tier and drops the cached one.
func (p *Permissions) Set(ctx context.Context, userID int, perm Permission) error {
	if err := SetPermission(ctx, p.db, userID, perm); err != nil {
		return err
	}
	p.cache.Invalidate(userID)
	return nil
}

// Delete removes the account and its cached tier.
func (p *Permissions) Delete(ctx context.Context, userID int) error {
	if err := DeleteUser(ctx, p.db, userID); err != nil {
		return err
	}
	p.cache.Forget(userID)
	return nil
}

// Cached returns how many accounts have a tier in the cache.
func (p *Permissions) Cached() int {
	return p.cache.Len()
}
