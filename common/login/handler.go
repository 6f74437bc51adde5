// Package login implements the submit handler of the login form.
//
// The handler never touches a browser directly. Whatever hosts it (the DOM in
// login-wasm, a terminal in auth-client, a test) supplies the form values and
// the three side effects it needs: an HTTP client, a way to alert the user and
// a way to navigate.
package login

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/londonhackspace/form-login/common"
)

const (
	DefaultEndpoint = "http://127.0.0.1:5000/login"

	// SuccessMessage is compared byte for byte against the server reply.
	SuccessMessage = "Login successful"
	SuccessAlert   = "Login successful! Redirecting..."
	DashboardPage  = "dashboard.html"

	FormID        = "loginForm"
	UsernameField = "username"
	PasswordField = "password"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Notifier interface {
	Alert(message string)
}

type Navigator interface {
	Navigate(location string)
}

// Form gives access to the current value of an input element by id.
type Form interface {
	Value(id string) string
}

type SubmitEvent interface {
	PreventDefault()
}

type Credentials struct {
	Username string
	Password string
}

type Handler struct {
	client    HTTPClient
	notifier  Notifier
	navigator Navigator
	endpoint  string
}

func NewHandler(client HTTPClient, notifier Notifier, navigator Navigator) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{
		client:    client,
		notifier:  notifier,
		navigator: navigator,
		endpoint:  DefaultEndpoint,
	}
}

func (h *Handler) Endpoint() string {
	return h.endpoint
}

// HandleSubmit is bound to the form's submit event. Values are read once,
// before the request goes out, and are passed through untouched.
func (h *Handler) HandleSubmit(ctx context.Context, ev SubmitEvent, form Form) error {
	ev.PreventDefault()

	creds := Credentials{
		Username: form.Value(UsernameField),
		Password: form.Value(PasswordField),
	}
	return h.Submit(ctx, creds)
}

// Submit sends one login request and acts on the reply. Failures to reach the
// server or to decode its reply are returned without any alert or navigation.
func (h *Handler) Submit(ctx context.Context, creds Credentials) error {
	body, err := encodeRequest(common.LoginRequest{
		Username: creds.Username,
		Password: creds.Password,
	})
	if err != nil {
		return fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("contacting %s: %w", h.endpoint, err)
	}
	defer resp.Body.Close()

	// only the body is inspected, never the status code
	var loginResp common.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}

	if loginResp.Message == SuccessMessage {
		h.notifier.Alert(SuccessAlert)
		h.navigator.Navigate(DashboardPage)
		return nil
	}

	h.notifier.Alert(loginResp.Message)
	return nil
}

// encodeRequest matches JSON.stringify output: no trailing newline, no
// escaping of <, > and &.
func encodeRequest(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
