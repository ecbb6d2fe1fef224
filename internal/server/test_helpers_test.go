package server

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/securenotes/internal/auth"
	"github.com/MarcoPoloResearchLab/securenotes/internal/encryption"
	"github.com/MarcoPoloResearchLab/securenotes/internal/notes"
	"github.com/MarcoPoloResearchLab/securenotes/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testEncryptionKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testSigningSecret  = "test-signing-secret"
	testIssuer         = "securenotes-auth"
	testAudience       = "securenotes-api"
	testCookieName     = "securenotes_session"
	testPassword       = "Secr3t!pass"
	testHeartbeatDelay = 50 * time.Millisecond
)

type testServer struct {
	handler  http.Handler
	accounts *users.Service
	issuer   *auth.TokenIssuer
	realtime *RealtimeDispatcher
	notes    *notes.Service
	database *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&notes.Note{}, &users.User{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	cipher, err := encryption.NewService(encryption.Config{Key: testEncryptionKey})
	if err != nil {
		t.Fatalf("failed to build cipher: %v", err)
	}
	noteService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Cipher:     cipher,
		IDProvider: notes.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build notes service: %v", err)
	}
	accounts, err := users.NewService(users.ServiceConfig{Database: db, HashCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to build account service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Accounts:          accounts,
		TokenIssuer:       issuer,
		SessionValidator:  validator,
		NotesService:      noteService,
		Realtime:          realtime,
		HeartbeatInterval: testHeartbeatDelay,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testServer{
		handler:  handler,
		accounts: accounts,
		issuer:   issuer,
		realtime: realtime,
		notes:    noteService,
		database: db,
	}
}

// registerAndIssue creates an account directly and returns its id and a bearer token.
func (s *testServer) registerAndIssue(t *testing.T, username string) (string, string) {
	t.Helper()
	user, err := s.accounts.Register(context.Background(), users.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	token, _, err := s.issuer.IssueToken(context.Background(), auth.SessionIdentity{UserID: user.ID, Username: user.Username})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return user.ID, token
}
