package integration_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/marginlab/margin/internal/annotations"
	"github.com/marginlab/margin/internal/auth"
	"github.com/marginlab/margin/internal/channel"
	"github.com/marginlab/margin/internal/client"
	"github.com/marginlab/margin/internal/hub"
	"github.com/marginlab/margin/internal/server"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const integrationSigningSecret = "integration-secret"

type collabClient struct {
	userID     string
	channel    *client.ChannelClient
	reconciler *client.Reconciler
	presence   *client.PresenceBroadcaster
}

func startCollabServer(testContext *testing.T) (*httptest.Server, *auth.TokenManager) {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:collabflow?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&annotations.Annotation{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	annotationService, err := annotations.NewService(annotations.ServiceConfig{
		Database: db,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build annotation service: %v", err)
	}

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        "margin-auth",
		Audience:      "margin-api",
		TokenTTL:      time.Hour,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:      tokenManager,
		Annotations:       annotationService,
		Hub:               hub.New(zap.NewNop()),
		Logger:            zap.NewNop(),
		KeepaliveInterval: 100 * time.Millisecond,
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer, tokenManager
}

func newCollabClient(testContext *testing.T, baseURL string, tokenManager *auth.TokenManager, userID string) *collabClient {
	testContext.Helper()

	token, _, err := tokenManager.Issue(context.Background(), userID)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}

	clientID := "client-" + userID
	transport, err := client.NewHTTPTransport(client.HTTPTransportConfig{
		BaseURL:     baseURL,
		BearerToken: token,
		ClientID:    clientID,
	})
	if err != nil {
		testContext.Fatalf("failed to build transport: %v", err)
	}

	participant := &collabClient{userID: userID}
	channelClient, err := client.NewChannelClient(client.ChannelClientConfig{
		Transport:      transport,
		ClientID:       clientID,
		RetryBaseDelay: 10 * time.Millisecond,
		RetryMaxDelay:  50 * time.Millisecond,
		OnResync: func(snapshot []channel.AnnotationPayload) {
			participant.reconciler.ApplySnapshot(snapshot)
		},
		OnEvent: func(event channel.Event) {
			participant.reconciler.ApplyEvent(event)
		},
	})
	if err != nil {
		testContext.Fatalf("failed to build channel client: %v", err)
	}

	participant.channel = channelClient
	participant.reconciler = client.NewReconciler(client.ReconcilerConfig{
		DocumentID: "doc-collab",
		UserID:     userID,
		ClientID:   clientID,
		Sender:     channelClient,
	})
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	testContext.Cleanup(cancelSweep)
	participant.reconciler.StartPresenceSweeper(sweepCtx)
	participant.presence = client.NewPresenceBroadcaster(client.PresenceBroadcasterConfig{
		DocumentID: "doc-collab",
		UserID:     userID,
		Sender:     channelClient,
	})
	return participant
}

func (c *collabClient) connect(testContext *testing.T) {
	testContext.Helper()
	if err := c.channel.Connect(context.Background(), "doc-collab"); err != nil {
		testContext.Fatalf("connect failed for %s: %v", c.userID, err)
	}
}

func waitFor(testContext *testing.T, description string, condition func() bool) {
	testContext.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	testContext.Fatalf("timed out waiting for %s", description)
}

func TestCollaborativeAnnotationFlow(testContext *testing.T) {
	testServer, tokenManager := startCollabServer(testContext)

	alice := newCollabClient(testContext, testServer.URL, tokenManager, "user-a")
	bob := newCollabClient(testContext, testServer.URL, tokenManager, "user-b")

	alice.connect(testContext)
	defer alice.channel.Disconnect()
	bob.connect(testContext)

	// A's selection shows up as a presence badge on B's side.
	alice.presence.Broadcast(&client.Selection{Text: "shared passage"})
	waitFor(testContext, "presence on B", func() bool {
		entries := bob.reconciler.ActivePresence()
		return len(entries) == 1 && entries[0].UserID == "user-a" && entries[0].Text == "shared passage"
	})

	// A highlights; the annotation reaches B over the channel.
	created, err := alice.reconciler.AddAnnotation(channel.AnnotationPayload{
		SectionID: "section-1",
		Text:      "shared passage",
		Color:     "yellow",
	})
	if err != nil {
		testContext.Fatalf("add annotation failed: %v", err)
	}
	waitFor(testContext, "annotation on B", func() bool {
		view := bob.reconciler.Annotations()
		return len(view) == 1 && view[0].ID == created.ID && view[0].CreatedBy == "user-a"
	})

	// A removes; B converges back to empty.
	alice.reconciler.RemoveAnnotation(created.ID)
	waitFor(testContext, "removal on B", func() bool {
		return len(bob.reconciler.Annotations()) == 0
	})

	// B drops off; A keeps annotating; B's reconnect resyncs without
	// duplicating anything.
	bob.channel.Disconnect()

	offline, err := alice.reconciler.AddAnnotation(channel.AnnotationPayload{
		SectionID: "section-2",
		Text:      "added while away",
		Color:     "green",
	})
	if err != nil {
		testContext.Fatalf("add annotation failed: %v", err)
	}
	waitFor(testContext, "annotation persisted", func() bool {
		snapshot, snapErr := fetchSnapshot(testServer.URL, tokenManager)
		return snapErr == nil && len(snapshot) == 1
	})

	bob.connect(testContext)
	defer bob.channel.Disconnect()

	waitFor(testContext, "resync on B", func() bool {
		view := bob.reconciler.Annotations()
		return len(view) == 1 && view[0].ID == offline.ID
	})
}

func fetchSnapshot(baseURL string, tokenManager *auth.TokenManager) ([]channel.AnnotationPayload, error) {
	token, _, err := tokenManager.Issue(context.Background(), "user-observer")
	if err != nil {
		return nil, err
	}
	transport, err := client.NewHTTPTransport(client.HTTPTransportConfig{
		BaseURL:     baseURL,
		BearerToken: token,
		ClientID:    "client-observer",
	})
	if err != nil {
		return nil, err
	}
	return transport.Snapshot(context.Background(), "doc-collab")
}
