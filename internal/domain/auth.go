package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin роль с правом "view as user" и доступом к биллингу.
const RoleAdmin = "admin"

// CustomClaims полезная нагрузка токена, выпущенного сервисом аутентификации (RS256).
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Role   string          `json:"role"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "dashboard.read": true
	jwt.RegisteredClaims
}

// Principal сводит claims к тому, что нужно резолверу.
func (c *CustomClaims) Principal() Principal {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return Principal{
		UserID: id,
		Admin:  c.Role == RoleAdmin || c.Scopes[RoleAdmin],
	}
}
