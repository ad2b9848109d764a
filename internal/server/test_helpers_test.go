package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/marginlab/margin/internal/annotations"
	"github.com/marginlab/margin/internal/auth"
	"github.com/marginlab/margin/internal/hub"
	"gorm.io/gorm"
)

type testEnv struct {
	handler http.Handler
	tokens  *auth.TokenManager
	broker  *hub.Hub
	service *annotations.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&annotations.Annotation{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := annotations.NewService(annotations.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct annotations service: %v", err)
	}

	tokens := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "margin-auth",
		Audience:      "margin-api",
	})

	broker := hub.New(nil)

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:      tokens,
		Annotations:       service,
		Hub:               broker,
		KeepaliveInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testEnv{handler: handler, tokens: tokens, broker: broker, service: service}
}

func (env *testEnv) bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := env.tokens.Issue(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (env *testEnv) doJSON(t *testing.T, method, target, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		request.Header.Set("Authorization", "Bearer "+env.bearerToken(t, userID))
	}
	request.Header.Set(originHeader, "client-"+userID)

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}
