package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminAuthMiddleware_ValidToken(t *testing.T) {
	var actor string
	handler := NewAdminAuthMiddleware("secret-token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if actor != ActorAdmin {
		t.Errorf("actor = %q, want %q", actor, ActorAdmin)
	}
}

func TestAdminAuthMiddleware_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"ヘッダーなし", ""},
		{"トークン不一致", "Bearer wrong-token"},
		{"前方一致", "Bearer secret"},
		{"スキーム違い", "Basic secret-token"},
		{"トークン空", "Bearer "},
		{"スキームのみ", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAdminAuthMiddleware("secret-token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate ヘッダーが設定されていない")
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Code != "UNAUTHORIZED" || body.Category != "auth" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestAdminAuthMiddleware_CaseInsensitiveScheme(t *testing.T) {
	called := false
	handler := NewAdminAuthMiddleware("secret-token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.Header.Set("Authorization", "bearer secret-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("小文字の bearer スキームが拒否された")
	}
}

func TestAdminAuthMiddleware_EmptyConfiguredTokenRejectsAll(t *testing.T) {
	handler := NewAdminAuthMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestActorFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ActorFromContext(req.Context()); got != "" {
		t.Errorf("actor = %q, want empty", got)
	}
	if got := ActorFromContext(ContextWithActor(req.Context(), "ops")); got != "ops" {
		t.Errorf("actor = %q, want %q", got, "ops")
	}
}
