package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the access-token shape this service accepts. Subject carries the
// user id.
// Multi-tenant invariant: WorkspaceID must be present on every token; every
// call session read or write is scoped by it.
type Claims struct {
	jwt.RegisteredClaims

	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}
