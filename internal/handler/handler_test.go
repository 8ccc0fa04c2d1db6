package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"examgate/internal/auth"
	"examgate/internal/kiosk"
	"examgate/internal/scoring"
	"examgate/internal/store"
	"examgate/internal/verification"
)

type brokenAudit struct{}

func (brokenAudit) Record(context.Context, verification.Attempt) error {
	return errors.New("disk full")
}

type testServer struct {
	router *gin.Engine
	repo   *verification.Repository
	face   []byte
	finger []byte
}

func newTestServer(t *testing.T, audit verification.AuditLogger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.NewDB(store.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	face, err := scoring.EncodeFaceVector([]float64{0.2, 0.9, 0.4})
	require.NoError(t, err)
	finger, err := scoring.EncodeMinutiae([]scoring.Minutia{
		{X: 10, Y: 10, Angle: 30, Type: "ending"},
		{X: 40, Y: 60, Angle: 120, Type: "bifurcation"},
	})
	require.NoError(t, err)

	_, err = db.Client.Exec(`INSERT INTO courses (id, code, name) VALUES ('c1', 'CS101', 'Intro')`)
	require.NoError(t, err)
	_, err = db.Client.Exec(`INSERT INTO students (id, name, class_name, face_template, fingerprint_template) VALUES ($1, $2, $3, $4, $5)`,
		"s1", "Ada Obi", "CS-3A", face, finger)
	require.NoError(t, err)
	_, err = db.Client.Exec(`INSERT INTO student_courses (student_id, course_id) VALUES ('s1', 'c1')`)
	require.NoError(t, err)
	_, err = db.Client.Exec(`INSERT INTO exam_sessions (id, course_id, kiosk_id, starts_at, duration_minutes, location, is_active) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		"e1", "c1", "k1", time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), 120, "Hall B", true)
	require.NoError(t, err)

	repo := verification.NewRepository(db.Client)
	if audit == nil {
		audit = repo
	}
	registry := kiosk.NewRegistry(verification.Deps{
		Resolver:  verification.NewResolver(repo, scoring.FaceScorer{}, 0.70, verification.DefaultAmbiguityMargin),
		Confirmer: verification.NewFingerprintConfirmer(scoring.FingerprintScorer{}),
		Sessions:  repo,
		Audit:     audit,
		Logger:    zerolog.Nop(),
	}, verification.Config{FingerprintThreshold: 0.70})

	issuer := auth.Issuer{Name: "examgate", Key: "test-key", AccessTTL: time.Minute, RefreshTTL: time.Hour}
	h := New(registry, repo, kiosk.NewRepository(db.Client), issuer, map[string]HealthCheck{"db": db.Healthy}, zerolog.Nop())
	r := gin.New()
	h.Register(r)
	return &testServer{router: r, repo: repo, face: face, finger: finger}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) register(t *testing.T, kioskID string) auth.TokenPair {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/kiosks/register", "", gin.H{"kiosk_id": kioskID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var pair auth.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	return pair
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestVerificationFlowApproves(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.register(t, "k1").AccessToken

	w := s.do(t, http.MethodPost, "/v1/verification/face", token, gin.H{"descriptor": s.face})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	face := decode[verification.FaceResult](t, w)
	require.Equal(t, verification.StateIdentified, face.State)
	require.Equal(t, "Ada Obi", face.Student.Name)

	w = s.do(t, http.MethodGet, "/v1/verification/state", token, nil)
	require.Equal(t, verification.StateIdentified, decode[verification.Snapshot](t, w).State)

	w = s.do(t, http.MethodPost, "/v1/verification/enrollment", token, gin.H{"session_id": "e1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, verification.StateEnrollmentChecked, decode[verification.EnrollmentResult](t, w).State)

	w = s.do(t, http.MethodPost, "/v1/verification/fingerprint", token, gin.H{"descriptor": s.finger})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fp := decode[verification.FingerprintResult](t, w)
	require.Equal(t, verification.VerdictApproved, fp.Verdict)

	w = s.do(t, http.MethodGet, "/v1/attempts/"+fp.AttemptID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	a := decode[verification.Attempt](t, w)
	require.Equal(t, "s1", a.StudentID)
	require.Equal(t, "e1", a.ExamSessionID)
	require.InDelta(t, 1.0, *a.FaceScore, 1e-9)
	require.InDelta(t, 1.0, *a.FingerprintScore, 1e-9)

	w = s.do(t, http.MethodGet, "/v1/attempts?verdict=approved", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Attempts []verification.Attempt `json:"attempts"`
	}](t, w)
	require.Len(t, list.Attempts, 1)

	other := s.register(t, "k2").AccessToken
	w = s.do(t, http.MethodGet, "/v1/attempts/"+fp.AttemptID, other, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/v1/attempts", other, nil)
	require.Empty(t, decode[struct {
		Attempts []verification.Attempt `json:"attempts"`
	}](t, w).Attempts)
}

func TestVerificationRefusesKioskWithoutSession(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.register(t, "k9").AccessToken

	w := s.do(t, http.MethodPost, "/v1/verification/face", token, gin.H{"descriptor": s.face})
	require.Equal(t, http.StatusOK, w.Code)
	face := decode[verification.FaceResult](t, w)
	require.Equal(t, verification.VerdictRejectedEnrollment, face.Verdict)
	require.Equal(t, verification.ReasonSessionInactive, face.Reason)
}

func TestVerificationOutOfOrderIsConflict(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.register(t, "k1").AccessToken

	w := s.do(t, http.MethodPost, "/v1/verification/enrollment", token, gin.H{"session_id": "e1"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/v1/verification/face", token, gin.H{"descriptor": s.face})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/v1/verification/fingerprint", token, gin.H{"descriptor": s.finger})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestVerificationAbortWithoutOpenRun(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.register(t, "k1").AccessToken

	w := s.do(t, http.MethodPost, "/v1/verification/abort", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[verification.AbortResult](t, w)
	require.Equal(t, verification.VerdictAborted, res.Verdict)

	a, err := s.repo.GetAttempt(context.Background(), res.AttemptID)
	require.NoError(t, err)
	require.Equal(t, verification.ReasonCancelled, a.Reason)
}

func TestVerificationAuditFailureIsServiceUnavailable(t *testing.T) {
	s := newTestServer(t, brokenAudit{})
	token := s.register(t, "k1").AccessToken

	w := s.do(t, http.MethodPost, "/v1/verification/abort", token, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[struct {
		AttemptID string                   `json:"attempt_id"`
		Result    verification.AbortResult `json:"result"`
	}](t, w)
	require.NotEmpty(t, body.AttemptID)
	require.Equal(t, verification.VerdictAborted, body.Result.Verdict)
}

func TestVerificationRejectsMalformedInput(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.register(t, "k1").AccessToken

	w := s.do(t, http.MethodPost, "/v1/verification/face", token, gin.H{"descriptor": "***not base64***"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/v1/verification/face", token, gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/v1/attempts?limit=-3", token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/v1/kiosks/register", "", gin.H{"kiosk_id": "  "})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerificationRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/v1/verification/face", "", gin.H{"descriptor": s.face})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshRotatesTokens(t *testing.T) {
	s := newTestServer(t, nil)
	pair := s.register(t, "k1")

	w := s.do(t, http.MethodPost, "/v1/kiosks/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rotated := decode[auth.TokenPair](t, w)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	w = s.do(t, http.MethodPost, "/v1/kiosks/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/v1/kiosks/refresh", "", gin.H{"refresh_token": rotated.AccessToken})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/v1/verification/state", rotated.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterRefusesExistingKiosk(t *testing.T) {
	s := newTestServer(t, nil)
	pair := s.register(t, "k1")

	w := s.do(t, http.MethodPost, "/v1/kiosks/register", "", gin.H{"kiosk_id": "k1"})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	require.NotContains(t, w.Body.String(), "access_token")

	w = s.do(t, http.MethodPost, "/v1/kiosks/register", "", gin.H{"kiosk_id": " k1 "})
	require.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/v1/verification/state", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode[map[string]any](t, w)["db"])
}
