package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ecommerce-admin/internal/apperr"

	"github.com/gin-gonic/gin"
)

func serveWithToken(t *testing.T, m *Manager, header string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/orders/x", RequireAccessToken(m), func(c *gin.Context) {
		id, err := IdentityFrom(c.Request.Context())
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		v, _ := c.Get(IdentityKey)
		if v.(Identity) != id {
			c.String(http.StatusInternalServerError, "gin identity differs")
			return
		}
		c.String(http.StatusOK, id.UserID+"|"+id.Role+"|"+id.Phone)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAccessToken_SetsIdentity(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.IssuePair(time.Now(), Subject{UserID: "cust-9", Role: "customer", Phone: "+919876543210"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w := serveWithToken(t, m, "Bearer "+pair.AccessToken)
	if w.Code != http.StatusOK || w.Body.String() != "cust-9|customer|+919876543210" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

func TestRequireAccessToken_Rejections(t *testing.T) {
	m := newTestManager(t)
	fresh, err := m.IssuePair(time.Now(), Subject{UserID: "admin-1", Role: "admin"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	stale, err := m.IssuePair(time.Now().Add(-time.Hour), Subject{UserID: "admin-1", Role: "admin"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name    string
		header  string
		message string
	}{
		{"no header", "", "missing bearer token"},
		{"basic scheme", "Basic YWRtaW46YWRtaW4=", "missing bearer token"},
		{"empty bearer", "Bearer   ", "missing bearer token"},
		{"garbage", "Bearer not-a-jwt", "invalid token"},
		{"expired", "Bearer " + stale.AccessToken, "access token expired"},
		{"refresh token", "Bearer " + fresh.RefreshToken, "refresh tokens cannot be used for order operations"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serveWithToken(t, m, tc.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if got := w.Header().Get("WWW-Authenticate"); got == "" {
				t.Fatalf("expected WWW-Authenticate challenge")
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != "unauthorized" || body["message"] != tc.message {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestIdentityFrom(t *testing.T) {
	if _, err := IdentityFrom(context.Background()); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	ctx := WithIdentity(context.Background(), Identity{UserID: "support-2"})
	if uid, err := UserID(ctx); err != nil || uid != "support-2" {
		t.Fatalf("unexpected user id %q %v", uid, err)
	}
	if _, err := Role(ctx); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected role error, got %v", err)
	}

	ctx = WithIdentity(ctx, Identity{UserID: "support-2", Role: "support"})
	if role, err := Role(ctx); err != nil || role != "support" {
		t.Fatalf("unexpected role %q %v", role, err)
	}
}
