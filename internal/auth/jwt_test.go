package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentdac/backend/internal/models"
)

func testUser() models.User {
	return models.User{
		ID:    7,
		Email: "chair@example.org",
		Roles: models.NewRoleSet(models.RoleChairperson, models.RoleDataOwner),
	}
}

func TestGenerateValidate(t *testing.T) {
	svc := NewJWTService("secret", "consent", 1)
	token, err := svc.Generate(testUser())
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "chair@example.org", claims.Email)
	assert.Equal(t, []string{"Chairperson", "DataOwner"}, claims.Roles)
	assert.True(t, claims.RoleSet().Has(models.RoleChairperson))
	assert.False(t, claims.RoleSet().Has(models.RoleAdmin))
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", "consent", 1)
	token, err := svc.Generate(testUser())
	require.NoError(t, err)

	tests := []struct {
		name string
		svc  *JWTService
		tok  string
	}{
		{"wrong secret", NewJWTService("other", "consent", 1), token},
		{"wrong issuer", NewJWTService("secret", "elsewhere", 1), token},
		{"garbage", svc, "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.Validate(tt.tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidateExpired(t *testing.T) {
	svc := NewJWTService("secret", "consent", 1)
	svc.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	token, err := svc.Generate(testUser())
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaimsRoleSetSkipsUnknown(t *testing.T) {
	c := Claims{Roles: []string{"member", "Speaker", "ADMIN"}}
	assert.Equal(t, []string{"Member", "Admin"}, c.RoleSet().Names())
}
