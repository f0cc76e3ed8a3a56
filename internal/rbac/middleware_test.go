package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"callops/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(id auth.Identity, roles ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}}
	handlers = append(handlers, Guard(roles...)...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestGuard(t *testing.T) {
	cases := []struct {
		name string
		id   auth.Identity
		want int
	}{
		{"agent may write", auth.Identity{UserID: "u", WorkspaceID: "w", Role: RoleAgent}, http.StatusOK},
		{"viewer may not write", auth.Identity{UserID: "u", WorkspaceID: "w", Role: RoleViewer}, http.StatusForbidden},
		{"super admin bypasses", auth.Identity{UserID: "u", WorkspaceID: "w", Role: RoleSuperAdmin}, http.StatusOK},
		{"workspace required", auth.Identity{UserID: "u", Role: RoleOwner}, http.StatusUnauthorized},
		{"no identity", auth.Identity{}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, serve(tc.id, CallWriters...))
		})
	}
}

func TestGuard_ReadersIncludeViewer(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(auth.Identity{UserID: "u", WorkspaceID: "w", Role: RoleViewer}, CallReaders...))
}
