package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/londonhackspace/form-login/common"
	"github.com/londonhackspace/form-login/common/auth"
	"github.com/londonhackspace/form-login/common/login"
	"github.com/rs/zerolog/log"
	authentication "k8s.io/api/authentication/v1"
)

const maxUploadSize = 32 << 20

var allowedUploadExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".pdf":  true,
}

type fileStore interface {
	RecordFile(ctx context.Context, filename string, userID int) error
	Files(ctx context.Context, userID int) ([]string, error)
}

type server struct {
	authenticator auth.Auth
	registrar     auth.Registrar
	sessions      auth.SessionStore
	files         fileStore

	uploadDir string
	// maxUpload caps the request body of /upload, maxUploadSize when zero
	maxUpload int64
	staticDir string
}

func (s *server) routes() http.Handler {
	rtr := mux.NewRouter()

	rtr.Path("/register").Methods(http.MethodPost).HandlerFunc(s.handleRegister)
	rtr.Path("/login").Methods(http.MethodPost).HandlerFunc(s.handleLogin)
	rtr.Path("/upload").Methods(http.MethodPost).HandlerFunc(s.handleUpload)
	rtr.Path("/files").Methods(http.MethodGet).HandlerFunc(s.handleListFiles)
	rtr.Path("/verify").Methods(http.MethodPost).HandlerFunc(s.handleCheckToken)

	if len(s.staticDir) > 0 {
		rtr.PathPrefix("/").Methods(http.MethodGet, http.MethodHead).Handler(http.FileServer(http.Dir(s.staticDir)))
	}

	// pages are usually opened straight from disk, so any origin may call us
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(rtr)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Err(err).Msg("Error marshalling response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, common.MessageResponse{Message: message})
}

func readJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var query common.RegisterRequest
	if err := readJSON(r, &query); err != nil {
		log.Err(err).Msg("Error unmarshalling register request")
		writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if len(query.Username) == 0 {
		query.Username = query.Email
	}
	if len(query.Username) == 0 || len(query.Password) == 0 {
		writeMessage(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	if s.registrar == nil {
		writeMessage(w, http.StatusNotImplemented, "Registration is not available")
		return
	}

	user, err := s.registrar.RegisterUser(r.Context(), query.Username, query.Email, query.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrUserExists):
		writeMessage(w, http.StatusConflict, "User already exists")
		return
	case errors.Is(err, auth.ErrPasswordTooLong):
		writeMessage(w, http.StatusBadRequest, "Password is too long")
		return
	case errors.Is(err, auth.ErrNotSupported):
		writeMessage(w, http.StatusNotImplemented, "Registration is not available")
		return
	default:
		log.Err(err).Str("username", query.Username).Msg("Error registering user")
		writeMessage(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	log.Info().Str("username", user.Username).Int("uid", user.Uid).Msg("User registered")
	writeMessage(w, http.StatusOK, "User created")
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var query common.LoginRequest
	if err := readJSON(r, &query); err != nil {
		log.Err(err).Msg("Error unmarshalling login request")
		writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if len(query.Username) == 0 {
		query.Username = query.Email
	}

	user, err := s.authenticator.AuthenticateUser(r.Context(), query.Username, query.Password)
	if err != nil {
		if errors.Is(err, auth.AuthError) {
			log.Info().Str("username", query.Username).Msg("Invalid credentials")
			writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Err(err).Str("username", query.Username).Msg("Error authenticating user")
		writeMessage(w, http.StatusInternalServerError, "Authentication unavailable")
		return
	}

	token, err := s.sessions.AddUser(r.Context(), user)
	if err != nil {
		log.Err(err).Str("username", user.Username).Msg("Error creating session")
		writeMessage(w, http.StatusInternalServerError, "Authentication unavailable")
		return
	}

	log.Info().Str("username", user.Username).
		Int("uid", user.Uid).
		Msg("User authenticated")

	writeJSON(w, http.StatusOK, common.LoginResponse{
		Message: login.SuccessMessage,
		Token:   token,
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := s.sessions.GetUser(r.Context(), bearerToken(r))
	if user == nil {
		writeMessage(w, http.StatusUnauthorized, "Missing or invalid token")
		return
	}

	limit := s.maxUpload
	if limit <= 0 {
		limit = maxUploadSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "No file")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !allowedUploadExtensions[strings.ToLower(filepath.Ext(name))] {
		writeMessage(w, http.StatusBadRequest, "Only images and PDFs allowed")
		return
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		log.Err(err).Msg("Error creating upload folder")
		writeMessage(w, http.StatusInternalServerError, "Upload failed")
		return
	}

	path := filepath.Join(s.uploadDir, name)
	out, err := os.Create(path)
	if err != nil {
		log.Err(err).Str("filename", name).Msg("Error creating upload")
		writeMessage(w, http.StatusInternalServerError, "Upload failed")
		return
	}
	_, err = io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Err(err).Str("filename", name).Msg("Error writing upload")
		writeMessage(w, http.StatusInternalServerError, "Upload failed")
		return
	}

	if s.files != nil {
		if err := s.files.RecordFile(r.Context(), name, user.Uid); err != nil {
			log.Err(err).Str("filename", name).Msg("Error recording upload")
			if rerr := os.Remove(path); rerr != nil {
				log.Err(rerr).Str("filename", name).Msg("Error removing unrecorded upload")
			}
			writeMessage(w, http.StatusInternalServerError, "Upload failed")
			return
		}
	}

	log.Info().Str("username", user.Username).Str("filename", name).Msg("File uploaded")
	writeMessage(w, http.StatusOK, "File uploaded")
}

func (s *server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	user := s.sessions.GetUser(r.Context(), bearerToken(r))
	if user == nil {
		writeMessage(w, http.StatusUnauthorized, "Missing or invalid token")
		return
	}

	resp := common.FilesResponse{Files: []string{}}
	if s.files != nil {
		files, err := s.files.Files(r.Context(), user.Uid)
		if err != nil {
			log.Err(err).Str("username", user.Username).Msg("Error listing files")
			writeMessage(w, http.StatusInternalServerError, "Listing failed")
			return
		}
		resp.Files = append(resp.Files, files...)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	var tokenReview authentication.TokenReview
	if err := readJSON(r, &tokenReview); err != nil {
		log.Err(err).Msg("Error unmarshalling body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	log.Debug().Msg("got token review")

	response := authentication.TokenReview{
		TypeMeta: tokenReview.TypeMeta,
		Status: authentication.TokenReviewStatus{
			Authenticated: false,
			Error:         "Not Authenticated",
		},
	}

	user := s.sessions.GetUser(r.Context(), tokenReview.Spec.Token)
	if user != nil {
		response.Status.Authenticated = true
		response.Status.User.UID = strconv.Itoa(user.Uid)
		response.Status.User.Groups = user.Groups
		response.Status.User.Username = user.Username
		response.Status.Error = ""

		log.Info().Str("username", user.Username).
			Msg("User Token Validated")
	}

	writeJSON(w, http.StatusOK, response)
}
