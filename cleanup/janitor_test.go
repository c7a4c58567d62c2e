package cleanup

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/machinekit/core"
	memorystore "github.com/open-rails/machinekit/storage/memory"
)

func TestRunOncePrunesRevokedAndExpired(t *testing.T) {
	db := memorystore.NewDB()
	tokens := db.AccessTokens()
	ctx := context.Background()

	identityID := uuid.New()
	live, err := tokens.Create(ctx, &core.AccessToken{IdentityID: identityID, MaxTTL: 3600, AuthMethod: core.AuthMethodOIDC})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := tokens.Create(ctx, &core.AccessToken{IdentityID: identityID, Revoked: true, AuthMethod: core.AuthMethodOIDC}); err != nil {
		t.Fatalf("Create revoked: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	j := NewJanitor(tokens, log)
	j.RunOnce(ctx)

	if got := tokens.CountByIdentity(identityID); got != 1 {
		t.Errorf("remaining tokens = %d, want only the live one (%s)", got, live.ID)
	}

	// A token past its max lifetime goes on the next sweep.
	if _, err := tokens.DeleteExpired(ctx, time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if got := tokens.CountByIdentity(identityID); got != 0 {
		t.Errorf("remaining tokens = %d, want 0 after max ttl elapsed", got)
	}
}
