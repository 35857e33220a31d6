package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "auth_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return database
}

func TestLoginAndValidate(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, SeedAdmin(ctx, database, "admin", "changeme"))
	require.NoError(t, SeedAdmin(ctx, database, "other", "changeme"), "second seed is a no-op")

	users, err := ListUsers(ctx, database)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Admin", users[0].Permission)

	_, _, err = Login(ctx, database, "admin", "wrong", 24)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = Login(ctx, database, "nobody", "changeme", 24)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	token, u, err := Login(ctx, database, "admin", "changeme", 24)
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, "admin", u.Username)

	got, err := ValidateSession(ctx, database, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, Logout(ctx, database, token))
	_, err = ValidateSession(ctx, database, token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExpiredSession(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	u, err := CreateUser(ctx, database, "anna", "anna@example.com", "password1", Starter)
	require.NoError(t, err)

	_, err = database.Exec(`INSERT INTO sessions (user_id, token, expires_at) VALUES (?,?,?)`,
		u.ID, "old", db.Timestamp(time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	_, err = ValidateSession(ctx, database, "old")
	require.ErrorIs(t, err, ErrSessionExpired)

	require.NoError(t, CleanExpiredSessions(ctx, database))
	_, err = ValidateSession(ctx, database, "old")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateUserValidation(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	_, err := CreateUser(ctx, database, "A", "", "password1", Demo)
	require.ErrorIs(t, err, ErrInvalidUsername)
	_, err = CreateUser(ctx, database, "anna", "", "short", Demo)
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = CreateUser(ctx, database, "anna", "", "password1", Demo)
	require.NoError(t, err)
	_, err = CreateUser(ctx, database, "anna", "", "password1", Demo)
	require.ErrorIs(t, err, ErrUserExists)

	_, err = GetUserByUsername(ctx, database, "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUsernameHelpers(t *testing.T) {
	assert.True(t, IsValidUsername("jan.kowalski"))
	assert.True(t, IsValidUsername("ab"))
	assert.False(t, IsValidUsername("a"))
	assert.False(t, IsValidUsername("Jan"))
	assert.False(t, IsValidUsername("jan kowalski"))

	assert.Equal(t, "jankowalski", GenerateUsername("  Jan Kowalski ", "x@y.pl"))
	assert.Equal(t, "salon.x", GenerateUsername("", "salon.x@example.com"))
	assert.Equal(t, "", GenerateUsername("", ""))
}

func TestPermissionHierarchy(t *testing.T) {
	assert.True(t, Admin.AtLeast(Professional))
	assert.True(t, Starter.AtLeast(Demo))
	assert.False(t, Demo.AtLeast(Starter))
	assert.Equal(t, Demo, ParsePermission("Superuser"))
	assert.Equal(t, Professional, ParsePermission("Professional"))

	_, err := LookupPermission("root")
	require.ErrorIs(t, err, ErrUnknownPermission)
	assert.Equal(t, "Admin", Admin.String())
}

func TestPermissionsCache(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	u, err := CreateUser(ctx, database, "anna", "", "password1", Starter)
	require.NoError(t, err)

	perms := NewPermissions(database)
	assert.Equal(t, Starter, perms.Lookup(ctx, u.ID))

	// direct write is hidden by the cache until invalidated
	require.NoError(t, SetPermission(ctx, database, u.ID, Professional))
	assert.Equal(t, Starter, perms.Lookup(ctx, u.ID))

	require.NoError(t, perms.Set(ctx, u.ID, Admin))
	assert.Equal(t, Admin, perms.Lookup(ctx, u.ID))

	assert.Equal(t, Demo, perms.Lookup(ctx, 9999))
	require.ErrorIs(t, perms.Set(ctx, 9999, Admin), ErrUserNotFound)
}

func TestPermissionsDelete(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	u, err := CreateUser(ctx, database, "anna", "", "password1", Professional)
	require.NoError(t, err)
	keep, err := CreateUser(ctx, database, "jan", "", "password1", Starter)
	require.NoError(t, err)
	token, _, err := Login(ctx, database, "anna", "password1", 24)
	require.NoError(t, err)
	_, err = database.Exec(`INSERT INTO clients (user_id, name, review_code) VALUES (?, 'Jan', 'abcdefghij')`, u.ID)
	require.NoError(t, err)
	database.WriteLog(&u.ID, "info", "hello")

	perms := NewPermissions(database)
	assert.Equal(t, Professional, perms.Lookup(ctx, u.ID))
	assert.Equal(t, Starter, perms.Lookup(ctx, keep.ID))
	require.Equal(t, 2, perms.Cached())

	require.NoError(t, perms.Delete(ctx, u.ID))
	assert.Equal(t, 1, perms.Cached(), "a deleted account leaves the cache")
	assert.Equal(t, Demo, perms.Lookup(ctx, u.ID))

	_, err = GetUser(ctx, database, u.ID)
	require.ErrorIs(t, err, ErrUserNotFound)
	_, err = ValidateSession(ctx, database, token)
	require.Error(t, err)
	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM clients WHERE user_id=?`, u.ID).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM logs WHERE message='hello' AND user_id IS NULL`).Scan(&n))
	assert.Equal(t, 1, n)

	require.ErrorIs(t, perms.Delete(ctx, u.ID), ErrUserNotFound)
}

func TestMiddleware(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	_, err := CreateUser(ctx, database, "anna", "", "password1", Starter)
	require.NoError(t, err)
	token, _, err := Login(ctx, database, "anna", "password1", 1)
	require.NoError(t, err)

	perms := NewPermissions(database)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anna", UserFromContext(r.Context()).Username)
		w.WriteHeader(http.StatusNoContent)
	})
	starter := RequireAuth(database, perms, RequirePermission(Starter, ok))
	admin := RequireAuth(database, perms, RequirePermission(Admin, ok))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	starter.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	starter.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoginGuard(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := NewLoginGuard(database, 3, 15)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Record(ctx, "10.0.0.1", false))
		now = now.Add(time.Minute)
	}
	require.NoError(t, g.Record(ctx, "10.0.0.2", true))

	retry, blocked, err := g.Blocked(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, blocked)
	// First failure at 12:00, now 12:03: the window closes at 12:15.
	assert.Equal(t, 12*time.Minute, retry)

	_, blocked, err = g.Blocked(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.False(t, blocked)

	now = now.Add(13 * time.Minute)
	_, blocked, err = g.Blocked(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, blocked, "oldest failure aged out")

	require.NoError(t, CleanOldAttempts(ctx, database))
}

func TestLoginGuardDefaults(t *testing.T) {
	g := NewLoginGuard(nil, 0, -1)
	assert.Equal(t, 5, g.maxAttempts)
	assert.Equal(t, 15*time.Minute, g.window)
}
