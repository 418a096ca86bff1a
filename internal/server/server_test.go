package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/p-n-ai/pai-course/internal/auth"
	"github.com/p-n-ai/pai-course/internal/course"
	"github.com/p-n-ai/pai-course/internal/generator"
	"github.com/p-n-ai/pai-course/internal/progress"
	"github.com/p-n-ai/pai-course/internal/server"
	"github.com/p-n-ai/pai-course/internal/synthesis"
)

type fakeGenerator struct {
	courses course.Store
	err     error
	topics  []string
}

func (g *fakeGenerator) GenerateWithObserver(ctx context.Context, topic string, obs generator.Observer) (*course.Course, error) {
	g.topics = append(g.topics, topic)
	if obs != nil {
		obs.OnStageStart(generator.Event{Kind: generator.KindStageStart, Topic: topic, Stage: generator.StageDecompose, Index: -1})
		obs.OnStageComplete(generator.Event{Kind: generator.KindStageComplete, Topic: topic, Stage: generator.StageDecompose, Index: -1})
	}
	if g.err != nil {
		return nil, g.err
	}
	if c, err := g.courses.FindByTopic(ctx, topic); err == nil {
		return c, nil
	}
	return g.courses.Save(ctx, &course.Course{
		Topic: topic,
		Title: course.Title(topic),
		Lessons: []course.Lesson{{
			ID:    "lesson-1",
			Title: "Basics",
			Quiz: []course.QuizQuestion{
				{Question: "Q1", Options: []string{"a", "b", "c", "d"}},
				{Question: "Q2", Options: []string{"a", "b", "c", "d"}, CorrectAnswerIndex: 1},
			},
		}},
		FinalQuiz: synthesis.PlaceholderQuiz(),
	})
}

type env struct {
	handler  http.Handler
	gen      *fakeGenerator
	courses  *course.MemoryStore
	progress *progress.MemoryStore
	token    string
	userID   string
}

func newEnv(t *testing.T, checks map[string]server.Check) *env {
	t.Helper()
	authSvc, err := auth.NewService(auth.ServiceConfig{Secret: "test-secret", BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	sess, err := authSvc.Register(context.Background(), "Tester", "tester@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	courses := course.NewMemoryStore()
	e := &env{
		gen:      &fakeGenerator{courses: courses},
		courses:  courses,
		progress: progress.NewMemoryStore(),
		token:    sess.Token,
		userID:   sess.User.ID,
	}
	e.handler = server.New(server.Config{
		Generator: e.gen,
		Courses:   courses,
		Progress:  e.progress,
		Auth:      authSvc,
		Checks:    checks,
	}).Handler()
	return e
}

func (e *env) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *env) generate(t *testing.T, topic string) *course.Course {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/courses/generate", fmt.Sprintf(`{"topic":%q}`, topic), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d, body = %s", rec.Code, rec.Body.String())
	}
	c := decode[course.Course](t, rec)
	return &c
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t, map[string]server.Check{
		"database": func(context.Context) error { return nil },
	})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, tt.path, "", false)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	e := newEnv(t, map[string]server.Check{
		"database": func(context.Context) error { return nil },
		"cache":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := e.do(t, http.MethodGet, "/readyz", "", false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decode[struct {
		Failed map[string]string `json:"failed"`
	}](t, rec)
	if _, ok := body.Failed["cache"]; !ok || len(body.Failed) != 1 {
		t.Errorf("failed = %v, want only cache", body.Failed)
	}
}

func TestAuthFlow(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/auth/register", `{"name":"Ali","email":"ali@example.com","password":"secret123"}`, false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}
	reg := decode[auth.Session](t, rec)
	if strings.Contains(rec.Body.String(), "secret123") || strings.Contains(rec.Body.String(), "passwordHash") {
		t.Error("register response leaks password material")
	}

	rec = e.do(t, http.MethodPost, "/api/auth/register", `{"name":"Ali","email":"ALI@example.com","password":"secret123"}`, false)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/auth/register", `{"name":"","email":"x@example.com","password":"secret123"}`, false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid register status = %d, want 400", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/auth/login", `{"email":"ali@example.com","password":"wrong"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/auth/login", `{"email":"ali@example.com","password":"secret123"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	login := decode[auth.Session](t, rec)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	me := httptest.NewRecorder()
	e.handler.ServeHTTP(me, req)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d", me.Code)
	}
	if got := decode[auth.User](t, me); got.ID != reg.User.ID {
		t.Errorf("me = %s, want %s", got.ID, reg.User.ID)
	}
}

func TestGenerate(t *testing.T) {
	e := newEnv(t, nil)

	tests := []struct {
		name   string
		body   string
		authed bool
		want   int
	}{
		{"unauthenticated", `{"topic":"Go"}`, false, http.StatusUnauthorized},
		{"missing topic", `{}`, true, http.StatusBadRequest},
		{"non-string topic", `{"topic":42}`, true, http.StatusBadRequest},
		{"blank topic", `{"topic":"   "}`, true, http.StatusBadRequest},
		{"malformed body", `{"topic":`, true, http.StatusBadRequest},
		{"ok", `{"topic":"Go"}`, true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/courses/generate", tt.body, tt.authed)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if len(e.gen.topics) != 1 {
		t.Errorf("generator called %d times, want 1", len(e.gen.topics))
	}
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantText string
	}{
		{
			name:     "decompose failure",
			err:      fmt.Errorf("%w: decompose: boom", synthesis.ErrSynthesis),
			want:     http.StatusBadGateway,
			wantText: "AI service",
		},
		{
			name:     "no lessons",
			err:      &generator.GenerationError{Topic: "Go", Subtopics: []string{"A"}},
			want:     http.StatusInternalServerError,
			wantText: "Likely causes",
		},
		{
			name:     "store failure",
			err:      errors.New("connection reset"),
			want:     http.StatusInternalServerError,
			wantText: "course generation failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			e.gen.err = tt.err

			rec := e.do(t, http.MethodPost, "/api/courses/generate", `{"topic":"Go"}`, true)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), tt.wantText) {
				t.Errorf("body = %s, want it to mention %q", rec.Body.String(), tt.wantText)
			}
		})
	}
}

func TestGetCourse(t *testing.T) {
	e := newEnv(t, nil)
	c := e.generate(t, "Go")

	rec := e.do(t, http.MethodGet, "/api/courses/"+c.ID, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[course.Course](t, rec); got.Title != "Go - Complete Course" {
		t.Errorf("Title = %q", got.Title)
	}

	if rec := e.do(t, http.MethodGet, "/api/courses/missing", "", true); rec.Code != http.StatusNotFound {
		t.Errorf("missing course status = %d, want 404", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/courses/"+c.ID, "", false); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
}

func TestExportCourse(t *testing.T) {
	e := newEnv(t, nil)
	c := e.generate(t, "Go")

	rec := e.do(t, http.MethodGet, "/api/courses/"+c.ID+"/export.xlsx", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, c.ID) {
		t.Errorf("Content-Disposition = %q", cd)
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Lessons")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("lesson rows = %d, want 2", len(rows))
	}
}

func TestProgress(t *testing.T) {
	e := newEnv(t, nil)
	c := e.generate(t, "Go")
	post := func(body string) *httptest.ResponseRecorder {
		return e.do(t, http.MethodPost, "/api/users/progress", body, true)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown course", `{"courseId":"nope","lessonId":"lesson-1","quizScore":1}`, http.StatusNotFound},
		{"unknown lesson", fmt.Sprintf(`{"courseId":%q,"lessonId":"nope","quizScore":1}`, c.ID), http.StatusNotFound},
		{"missing score", fmt.Sprintf(`{"courseId":%q,"lessonId":"lesson-1"}`, c.ID), http.StatusBadRequest},
		{"negative score", fmt.Sprintf(`{"courseId":%q,"lessonId":"lesson-1","quizScore":-1}`, c.ID), http.StatusBadRequest},
		{"score above quiz size", fmt.Sprintf(`{"courseId":%q,"lessonId":"lesson-1","quizScore":3}`, c.ID), http.StatusBadRequest},
		{"ok", fmt.Sprintf(`{"courseId":%q,"lessonId":"lesson-1","quizScore":1}`, c.ID), http.StatusOK},
		{"overwrite", fmt.Sprintf(`{"courseId":%q,"lessonId":"lesson-1","quizScore":2}`, c.ID), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := post(tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec := e.do(t, http.MethodGet, "/api/users/progress", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	body := decode[struct {
		Records []progress.Record  `json:"records"`
		Courses []progress.Summary `json:"courses"`
	}](t, rec)
	if len(body.Records) != 1 || body.Records[0].QuizScore != 2 || body.Records[0].UserID != e.userID {
		t.Errorf("records = %+v", body.Records)
	}
	if len(body.Courses) != 1 || body.Courses[0].CompletedLessons != 1 {
		t.Errorf("courses = %+v", body.Courses)
	}
}

func TestGenerateStream(t *testing.T) {
	e := newEnv(t, nil)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/courses/generate/ws?topic=Go&token=" + e.token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	var types []string
	var final struct {
		Type   string         `json:"type"`
		Course *course.Course `json:"course"`
		Stage  string         `json:"stage"`
	}
	for {
		if err := wsjson.Read(ctx, conn, &final); err != nil {
			t.Fatalf("Read() error = %v (frames so far %v)", err, types)
		}
		types = append(types, final.Type)
		if final.Type == "course" || final.Type == "error" {
			break
		}
		final.Course = nil
	}

	if strings.Join(types, ",") != "stage_start,stage_complete,course" {
		t.Errorf("frames = %v", types)
	}
	if final.Course == nil || final.Course.Topic != "Go" {
		t.Errorf("final course = %+v", final.Course)
	}
}

func TestGenerateStream_Error(t *testing.T) {
	e := newEnv(t, nil)
	e.gen.err = &generator.GenerationError{Topic: "Go"}
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/courses/generate/ws?topic=Go&token=" + e.token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	var msg struct {
		Type   string `json:"type"`
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	for msg.Type != "error" {
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
	}
	if msg.Status != http.StatusInternalServerError || !strings.Contains(msg.Error, "Likely causes") {
		t.Errorf("error frame = %+v", msg)
	}
}

func TestGenerateStream_RequiresAuthAndTopic(t *testing.T) {
	e := newEnv(t, nil)

	if rec := e.do(t, http.MethodGet, "/api/courses/generate/ws?topic=Go", "", false); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/courses/generate/ws", "", true); rec.Code != http.StatusBadRequest {
		t.Errorf("no topic status = %d, want 400", rec.Code)
	}
}
