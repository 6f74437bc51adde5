package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/londonhackspace/form-login/common/login"
)

// terminalNotifier shows alerts as lines on the given writer.
type terminalNotifier struct {
	out io.Writer
}

func (n terminalNotifier) Alert(message string) {
	fmt.Fprintln(n.out, message)
}

// printNavigator resolves the target against the login endpoint, like a
// browser resolving a relative href, and prints the result.
type printNavigator struct {
	base *url.URL
	out  io.Writer
}

func (n printNavigator) Navigate(location string) {
	target, err := url.Parse(location)
	if err != nil {
		fmt.Fprintln(n.out, location)
		return
	}
	fmt.Fprintln(n.out, n.base.ResolveReference(target).String())
}

// loginNavigator records that the handler navigated away, which only happens
// after a successful login.
type loginNavigator struct {
	next      login.Navigator
	succeeded bool
}

func (n *loginNavigator) Navigate(location string) {
	n.succeeded = true
	n.next.Navigate(location)
}
