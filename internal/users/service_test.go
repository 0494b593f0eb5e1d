package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate account schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestRolesDefaultToPlainUser(t *testing.T) {
	service := newTestService(t)

	roles, err := service.Roles(context.Background(), "applicant-1")
	if err != nil {
		t.Fatalf("roles lookup failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != RoleUser {
		t.Fatalf("expected plain user role, got %v", roles)
	}
}

func TestGrantAdminIsIdempotentAndVisibleToRoles(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	// prime the cache so the grant must invalidate it.
	if _, err := service.Roles(ctx, "reviewer-1"); err != nil {
		t.Fatalf("roles lookup failed: %v", err)
	}

	account, err := service.GrantAdmin(ctx, " reviewer-1 ", "reviewer@example.com")
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if account.Role != RoleAdmin || account.Email != "reviewer@example.com" {
		t.Fatalf("unexpected account %+v", account)
	}
	if _, err := service.GrantAdmin(ctx, "reviewer-1", ""); err != nil {
		t.Fatalf("second grant failed: %v", err)
	}

	roles, err := service.Roles(ctx, "reviewer-1")
	if err != nil {
		t.Fatalf("roles lookup failed: %v", err)
	}
	if len(roles) != 2 || roles[1] != RoleAdmin {
		t.Fatalf("expected admin roles, got %v", roles)
	}

	stored, err := service.Lookup(ctx, "reviewer-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.Email != "reviewer@example.com" {
		t.Fatalf("expected email to survive a grant without email, got %q", stored.Email)
	}
}

func TestGrantAdminRejectsBlankUser(t *testing.T) {
	service := newTestService(t)
	if _, err := service.GrantAdmin(context.Background(), "  ", ""); err != ErrInvalidUser {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}
