//go:build js && wasm

// Command login-wasm binds the login handler to the page's form. Build with
// GOOS=js GOARCH=wasm and load it next to login.html.
package main

import (
	"context"
	"os"
	"syscall/js"

	"github.com/londonhackspace/form-login/common/login"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type domEvent struct {
	v js.Value
}

func (e domEvent) PreventDefault() {
	e.v.Call("preventDefault")
}

type domForm struct {
	doc js.Value
}

func (f domForm) Value(id string) string {
	el := f.doc.Call("getElementById", id)
	if el.IsNull() || el.IsUndefined() {
		return ""
	}
	return el.Get("value").String()
}

type alertNotifier struct{}

func (alertNotifier) Alert(message string) {
	js.Global().Call("alert", message)
}

type locationNavigator struct{}

func (locationNavigator) Navigate(location string) {
	js.Global().Get("window").Get("location").Set("href", location)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	doc := js.Global().Get("document")
	form := doc.Call("getElementById", login.FormID)
	if form.IsNull() {
		log.Error().Str("id", login.FormID).Msg("Login form not found")
		return
	}

	handler := login.NewHandler(nil, alertNotifier{}, locationNavigator{})
	page := domForm{doc: doc}

	onSubmit := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		// the default action and the field values have to be dealt with before
		// the callback returns, the request itself must not block the event loop
		domEvent{v: args[0]}.PreventDefault()
		creds := login.Credentials{
			Username: page.Value(login.UsernameField),
			Password: page.Value(login.PasswordField),
		}

		go func() {
			if err := handler.Submit(context.Background(), creds); err != nil {
				log.Err(err).Msg("Login failed")
			}
		}()
		return nil
	})
	form.Call("addEventListener", "submit", onSubmit)

	// the page keeps submit disabled until the listener above is in place
	buttons := form.Call("querySelectorAll", "[type=submit]")
	for i := 0; i < buttons.Length(); i++ {
		buttons.Index(i).Set("disabled", false)
	}

	select {}
}
