// Package portal drives legacy web portals through browser automation:
// one cached authenticated session per backend system, and a record
// fetcher that runs the search sequence and extracts the record.
package portal

import (
	"context"

	"github.com/leaseops/leaseverify/internal/config"
)

// Driver opens authenticated connections to backend systems. The
// production implementation is chromedp-backed; tests substitute fakes.
type Driver interface {
	// Open performs the login sequence for the system and returns a live
	// connection. A failed login must release all underlying resources
	// before returning.
	Open(ctx context.Context, identity string, sys config.SystemConfig) (Conn, error)
}

// Conn is one live authenticated automation context against a backend
// system. Conns are not safe for concurrent use; the session cache
// serializes access per identity.
type Conn interface {
	// Click waits for the selector to become visible within the nav
	// budget and clicks it.
	Click(ctx context.Context, selector string) error

	// SetValue waits for the selector and replaces its value.
	SetValue(ctx context.Context, selector, value string) error

	// Exists probes for the selector without waiting.
	Exists(ctx context.Context, selector string) (bool, error)

	// OpenRecord clicks the selector and, if the record materializes as
	// a secondary tab/window, switches the connection to it. It returns
	// the popup URL, or "" when the record opened in place.
	OpenRecord(ctx context.Context, selector string) (string, error)

	// Snapshot returns the HTML of the current record view.
	Snapshot(ctx context.Context) (string, error)

	// Close releases the underlying automation resources.
	Close() error
}
