package login

import (
	"context"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
)

// TokenManager decides which token record is kept for a session and ends the session at the
// identity provider on logout.
type TokenManager interface {
	Reconcile(ctx context.Context, current *models.TokenRecord, grant *models.Grant) (models.TokenRecord, error)
	FinalizeLogout(ctx context.Context, token models.TokenRecord)
}
