// Package session drives one browser session per monitor against the booking
// site and turns each check into a list of slots.
package session

import (
	"context"
	"time"
)

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a long-lived browser process owned by one monitor.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one isolated tab. A page lives for a single check.
type Page interface {
	Goto(ctx context.Context, url string) error
	URL() string
	Content(ctx context.Context) (string, error)
	// Find returns the first element matching selector or ErrElementNotFound.
	Find(ctx context.Context, selector string) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// WaitFor blocks until selector matches a visible element or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Close() error
}

// Element is a handle on one DOM node.
type Element interface {
	Tag() string
	Text() (string, error)
	Attr(name string) (string, error)
	Visible() bool
	Enabled() bool
	Click() error
	Type(text string) error
	Select(value string) error
	Options() ([]Option, error)
}

// Option is one entry of a <select>.
type Option struct {
	Value string
	Label string
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
