package api

import (
	"context"
	"errors"
	"testing"
)

func TestUserIDFromContext_Present(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-1")
	id, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext() error = %v", err)
	}
	if id != "user-1" {
		t.Errorf("id = %q, want user-1", id)
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	if !errors.Is(err, ErrNoUserInContext) {
		t.Errorf("err = %v, want ErrNoUserInContext", err)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	_, err := UserIDFromContext(WithUserID(context.Background(), ""))
	if !errors.Is(err, ErrNoUserInContext) {
		t.Errorf("err = %v, want ErrNoUserInContext", err)
	}
}
