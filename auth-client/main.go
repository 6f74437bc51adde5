package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/londonhackspace/form-login/common/login"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

func defaultUsername() string {
	if cached := getCachedConfig(); cached != nil && len(cached.Username) > 0 {
		return cached.Username
	}
	user := os.Getenv("USER")
	// this might get better results on Windows
	if len(user) == 0 {
		user = os.Getenv("USERNAME")
	}
	return user
}

// readLine returns one line without its terminator. Whitespace is kept as
// typed.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(err == io.EOF && len(line) > 0) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readPassword(stdin *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(data), err
	}
	return readLine(stdin)
}

// runLogin submits once and remembers the username only if the server let
// the user in.
func runLogin(ctx context.Context, handler *login.Handler, nav *loginNavigator, creds login.Credentials) error {
	if err := handler.Submit(ctx, creds); err != nil {
		return err
	}
	if nav.succeeded && len(creds.Username) > 0 {
		setCachedConfig(&cacheconfig{Username: creds.Username})
	}
	return nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	nav := &loginNavigator{}
	handler := login.NewHandler(nil, terminalNotifier{out: os.Stderr}, nav)

	base, err := url.Parse(handler.Endpoint())
	if err != nil {
		log.Fatal().Err(err).Msg("Bad endpoint")
	}
	nav.next = printNavigator{base: base, out: os.Stdout}

	user := defaultUsername()
	stdin := bufio.NewReader(os.Stdin)

	fmt.Fprintln(os.Stderr, "Logging into", handler.Endpoint())
	if len(user) > 0 {
		fmt.Fprintf(os.Stderr, "Username (%s): ", user)
	} else {
		fmt.Fprint(os.Stderr, "Username: ")
	}

	givenUsername, err := readLine(stdin)
	if err != nil {
		log.Fatal().Err(err).Msg("Error getting username")
	}
	if len(givenUsername) == 0 {
		givenUsername = user
	}

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := readPassword(stdin)
	if err != nil {
		log.Fatal().Err(err).Msg("Error getting password")
	}

	err = runLogin(context.Background(), handler, nav, login.Credentials{
		Username: givenUsername,
		Password: password,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Login request failed")
	}
}
