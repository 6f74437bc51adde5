package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/londonhackspace/form-login/common"
	"github.com/londonhackspace/form-login/common/auth"
	"github.com/londonhackspace/form-login/common/login"
	authentication "k8s.io/api/authentication/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func setupTestServer(t *testing.T) (*server, *auth.SQLiteAuth) {
	t.Helper()

	dir := t.TempDir()
	db, err := auth.OpenSQLiteAuth(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.RegisterUser(context.Background(), "alice", "alice@example.org", "hunter2"); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return &server{
		authenticator: db,
		registrar:     db,
		sessions:      auth.CreateJWTSessionStore("secretkey", time.Hour),
		files:         db,
		uploadDir:     filepath.Join(dir, "uploads"),
	}, db
}

func doJSON(t *testing.T, h http.Handler, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeLogin(t *testing.T, rec *httptest.ResponseRecorder) common.LoginResponse {
	t.Helper()
	var resp common.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandleLogin(t *testing.T) {
	srv, _ := setupTestServer(t)
	h := srv.routes()

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantMessage string
		wantToken   bool
	}{
		{"success", `{"username":"alice","password":"hunter2"}`, http.StatusOK, "Login successful", true},
		{"email in username field", `{"username":"alice@example.org","password":"hunter2"}`, http.StatusOK, "Login successful", true},
		{"email field", `{"email":"alice@example.org","password":"hunter2"}`, http.StatusOK, "Login successful", true},
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized, "Invalid credentials", false},
		{"unknown user", `{"username":"mallory","password":"hunter2"}`, http.StatusUnauthorized, "Invalid credentials", false},
		{"empty fields", `{"username":"","password":""}`, http.StatusUnauthorized, "Invalid credentials", false},
		{"malformed", `{"username":`, http.StatusBadRequest, "Invalid request", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, "/login", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			resp := decodeLogin(t, rec)
			if resp.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMessage)
			}
			if (resp.Token != "") != tt.wantToken {
				t.Errorf("token = %q, want present=%v", resp.Token, tt.wantToken)
			}
		})
	}
}

func TestHandleLogin_MethodNotAllowed(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleRegister(t *testing.T) {
	srv, _ := setupTestServer(t)
	h := srv.routes()

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantMessage string
	}{
		{"created", `{"username":"bob","email":"bob@example.org","password":"pw"}`, http.StatusOK, "User created"},
		{"email only", `{"email":"carol@example.org","password":"pw"}`, http.StatusOK, "User created"},
		{"duplicate", `{"username":"alice","password":"pw"}`, http.StatusConflict, "User already exists"},
		{"missing password", `{"username":"dave"}`, http.StatusBadRequest, "Username and password are required"},
		{"malformed", `not json`, http.StatusBadRequest, "Invalid request"},
		{"username taken as an email", `{"username":"alice@example.org","password":"attacker"}`, http.StatusConflict, "User already exists"},
		{"email taken as a username", `{"username":"eve","email":"alice","password":"pw"}`, http.StatusConflict, "User already exists"},
		{"password too long", `{"username":"frank","password":"` + strings.Repeat("p", 73) + `"}`, http.StatusBadRequest, "Password is too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, "/register", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp common.MessageResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMessage)
			}
		})
	}

	// the new account can log in straight away
	rec := doJSON(t, h, "/login", `{"username":"bob","password":"pw"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("login after register: status = %d", rec.Code)
	}

	// rejected registrations must not shadow an existing login
	for _, body := range []string{
		`{"username":"alice@example.org","password":"hunter2"}`,
		`{"email":"alice@example.org","password":"hunter2"}`,
		`{"username":"alice","password":"hunter2"}`,
	} {
		if rec := doJSON(t, h, "/login", body); rec.Code != http.StatusOK {
			t.Errorf("login %s: status = %d", body, rec.Code)
		}
	}
}

func TestHandleRegister_NoRegistrar(t *testing.T) {
	srv, _ := setupTestServer(t)
	srv.registrar = nil
	rec := doJSON(t, srv.routes(), "/register", `{"username":"bob","password":"pw"}`)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func loginToken(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := doJSON(t, h, "/login", `{"username":"alice","password":"hunter2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	return decodeLogin(t, rec).Token
}

func uploadRequest(t *testing.T, token string, field string, filename string, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	io.WriteString(fw, content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHandleUpload(t *testing.T) {
	srv, db := setupTestServer(t)
	h := srv.routes()
	token := loginToken(t, h)

	tests := []struct {
		name        string
		token       string
		field       string
		filename    string
		wantStatus  int
		wantMessage string
	}{
		{"png", token, "file", "scan.png", http.StatusOK, "File uploaded"},
		{"upper case pdf", token, "file", "REPORT.PDF", http.StatusOK, "File uploaded"},
		{"path is stripped", token, "file", "../../evil.jpg", http.StatusOK, "File uploaded"},
		{"wrong type", token, "file", "script.sh", http.StatusBadRequest, "Only images and PDFs allowed"},
		{"no file", token, "other", "scan.png", http.StatusBadRequest, "No file"},
		{"no token", "", "file", "scan.png", http.StatusUnauthorized, "Missing or invalid token"},
		{"bad token", "garbage", "file", "scan.png", http.StatusUnauthorized, "Missing or invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, uploadRequest(t, tt.token, tt.field, tt.filename, "data"))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var resp common.MessageResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMessage)
			}
		})
	}

	for _, name := range []string{"scan.png", "REPORT.PDF", "evil.jpg"} {
		if _, err := os.Stat(filepath.Join(srv.uploadDir, name)); err != nil {
			t.Errorf("%s not stored: %v", name, err)
		}
	}

	user, err := db.AuthenticateUser(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	files, err := db.Files(context.Background(), user.Uid)
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if len(files) != 3 {
		t.Errorf("recorded files = %v, want 3", files)
	}
}

func TestHandleUpload_TooLarge(t *testing.T) {
	srv, _ := setupTestServer(t)
	srv.maxUpload = 256
	h := srv.routes()
	token := loginToken(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, token, "file", "big.png", strings.Repeat("x", 4096)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413 (%s)", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(srv.uploadDir, "big.png")); !os.IsNotExist(err) {
		t.Errorf("oversized upload left on disk: %v", err)
	}
}

type failingFiles struct{}

func (failingFiles) RecordFile(ctx context.Context, filename string, userID int) error {
	return errors.New("disk full")
}

func (failingFiles) Files(ctx context.Context, userID int) ([]string, error) {
	return nil, errors.New("disk full")
}

func TestHandleUpload_RecordFailureRemovesFile(t *testing.T) {
	srv, _ := setupTestServer(t)
	h := srv.routes()
	token := loginToken(t, h)
	srv.files = failingFiles{}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, token, "file", "scan.png", "data"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(srv.uploadDir, "scan.png")); !os.IsNotExist(err) {
		t.Errorf("unrecorded upload left on disk: %v", err)
	}
}

func TestHandleListFiles(t *testing.T) {
	srv, _ := setupTestServer(t)
	h := srv.routes()
	token := loginToken(t, h)

	list := func(tok string) (int, common.FilesResponse) {
		req := httptest.NewRequest(http.MethodGet, "/files", nil)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		var resp common.FilesResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		return rec.Code, resp
	}

	code, resp := list(token)
	if code != http.StatusOK || resp.Files == nil || len(resp.Files) != 0 {
		t.Errorf("empty listing: status = %d, files = %#v", code, resp.Files)
	}

	for _, name := range []string{"a.png", "b.pdf"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, uploadRequest(t, token, "file", name, "data"))
		if rec.Code != http.StatusOK {
			t.Fatalf("upload %s: status = %d", name, rec.Code)
		}
	}

	code, resp = list(token)
	if code != http.StatusOK || len(resp.Files) != 2 || resp.Files[0] != "a.png" || resp.Files[1] != "b.pdf" {
		t.Errorf("listing: status = %d, files = %v", code, resp.Files)
	}

	if code, _ := list(""); code != http.StatusUnauthorized {
		t.Errorf("listing without token: status = %d, want 401", code)
	}
}

func TestHandleCheckToken(t *testing.T) {
	srv, _ := setupTestServer(t)
	h := srv.routes()
	token := loginToken(t, h)

	review := func(tok string) authentication.TokenReview {
		body, _ := json.Marshal(authentication.TokenReview{
			TypeMeta: metav1.TypeMeta{Kind: "TokenReview", APIVersion: "authentication.k8s.io/v1"},
			Spec:     authentication.TokenReviewSpec{Token: tok},
		})
		rec := doJSON(t, h, "/verify", string(body))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp authentication.TokenReview
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	ok := review(token)
	if !ok.Status.Authenticated || ok.Status.User.Username != "alice" {
		t.Errorf("valid token not accepted: %+v", ok.Status)
	}
	if ok.Kind != "TokenReview" {
		t.Errorf("Kind = %q", ok.Kind)
	}

	bad := review("nope")
	if bad.Status.Authenticated || bad.Status.Error == "" {
		t.Errorf("invalid token accepted: %+v", bad.Status)
	}
}

func TestRoutes_CORSPreflight(t *testing.T) {
	srv, _ := setupTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", "null")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

// rewriteTransport sends every request to the test server, whatever host the
// caller asked for.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

type alerts []string

func (a *alerts) Alert(message string) { *a = append(*a, message) }

type locations []string

func (l *locations) Navigate(location string) { *l = append(*l, location) }

func TestLoginHandlerAgainstServer(t *testing.T) {
	srv, _ := setupTestServer(t)
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	target, _ := url.Parse(ts.URL)
	client := &http.Client{Transport: rewriteTransport{target: target}}

	tests := []struct {
		name          string
		creds         login.Credentials
		wantAlert     string
		wantLocations int
	}{
		{"good credentials", login.Credentials{Username: "alice", Password: "hunter2"}, login.SuccessAlert, 1},
		{"bad credentials", login.Credentials{Username: "alice", Password: "x"}, "Invalid credentials", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a alerts
			var l locations
			h := login.NewHandler(client, &a, &l)

			if err := h.Submit(context.Background(), tt.creds); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if len(a) != 1 || a[0] != tt.wantAlert {
				t.Errorf("alerts = %q, want [%q]", a, tt.wantAlert)
			}
			if len(l) != tt.wantLocations {
				t.Errorf("locations = %q", l)
			}
		})
	}
}
