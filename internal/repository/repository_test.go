package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Faixee/LUMI-OS/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("AUTH_CORE_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("AUTH_CORE_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	t.Cleanup(pool.Close)
	store := NewStore(pool)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func createTestUser(t *testing.T, store *Store, username string) int64 {
	t.Helper()
	id, err := store.CreateUser(context.Background(), model.User{
		Username:           username,
		PasswordHash:       "x",
		Role:               "teacher",
		SchoolID:           "school-1",
		SubscriptionStatus: "active",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func TestDuplicateUsername(t *testing.T) {
	store := openTestStore(t)
	if store == nil {
		return
	}
	username := "dup-" + time.Now().Format("150405.000000")
	createTestUser(t, store, username)
	if _, err := store.CreateUser(context.Background(), model.User{
		Username: username, PasswordHash: "x", Role: "teacher",
	}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestIncrementUsageEnforcesLimit(t *testing.T) {
	store := openTestStore(t)
	if store == nil {
		return
	}
	userID := createTestUser(t, store, "quota-"+time.Now().Format("150405.000000"))
	period := time.Now().UTC().Format("2006-01-02")

	const limit = 5
	for i := 0; i < limit; i++ {
		allowed, err := store.IncrementUsage(context.Background(), userID, "ai_chat", period, limit)
		if err != nil {
			t.Fatalf("increment %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("increment %d denied below limit", i+1)
		}
	}
	allowed, err := store.IncrementUsage(context.Background(), userID, "ai_chat", period, limit)
	if err != nil {
		t.Fatalf("increment past limit: %v", err)
	}
	if allowed {
		t.Fatalf("expected denial past limit")
	}

	count, err := store.GetUsage(context.Background(), userID, "ai_chat", period)
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if count != limit {
		t.Fatalf("expected count %d, got %d", limit, count)
	}
}

func TestIncrementUsageConcurrent(t *testing.T) {
	store := openTestStore(t)
	if store == nil {
		return
	}
	userID := createTestUser(t, store, "conc-"+time.Now().Format("150405.000000"))
	period := time.Now().UTC().Format("2006-01-02")

	const limit = 10
	const callers = 40
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := store.IncrementUsage(context.Background(), userID, "ai_quiz", period, limit)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			results <- allowed
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for allowed := range results {
		if allowed {
			accepted++
		}
	}
	if accepted != limit {
		t.Fatalf("expected exactly %d acceptances, got %d", limit, accepted)
	}
}

func TestRefreshRotationAndLogout(t *testing.T) {
	store := openTestStore(t)
	if store == nil {
		return
	}
	username := "rot-" + time.Now().Format("150405.000000")
	userID := createTestUser(t, store, username)

	expiry := time.Now().Add(time.Hour).UTC()
	if err := store.UpdateRefreshToken(context.Background(), userID, "hash-1", expiry); err != nil {
		t.Fatalf("update refresh: %v", err)
	}
	user, err := store.GetUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.RefreshTokenHash == nil || *user.RefreshTokenHash != "hash-1" {
		t.Fatalf("expected stored hash-1, got %v", user.RefreshTokenHash)
	}

	if err := store.UpdateRefreshToken(context.Background(), userID, "hash-2", expiry); err != nil {
		t.Fatalf("rotate refresh: %v", err)
	}
	user, _ = store.GetUserByUsername(context.Background(), username)
	if *user.RefreshTokenHash != "hash-2" {
		t.Fatalf("rotation must overwrite the stored hash")
	}

	before := user.TokenVersion
	if err := store.ClearRefreshAndBumpVersion(context.Background(), userID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	user, _ = store.GetUserByUsername(context.Background(), username)
	if user.RefreshTokenHash != nil || user.RefreshTokenExpiry != nil {
		t.Fatalf("logout must clear refresh credentials")
	}
	if user.TokenVersion != before+1 {
		t.Fatalf("logout must bump token_version: %d -> %d", before, user.TokenVersion)
	}
}
