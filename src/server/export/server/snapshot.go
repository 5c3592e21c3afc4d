package server

import (
	"context"
	"time"
)

// resolveSnapshot turns an optional caller-supplied read timestamp into the
// fixed snapshot for this call.  A zero timestamp selects "now".  The engine
// holds no session state: callers that want a consistent view across several
// calls must reuse the resolved timestamp themselves.
//
// The snapshot is truncated to microseconds so that a timestamp echoed to a
// caller and supplied back later selects exactly the same instant the
// metadata database stored.
func resolveSnapshot(readTimestamp time.Time) time.Time {
	if readTimestamp.IsZero() {
		readTimestamp = time.Now()
	}
	return readTimestamp.UTC().Truncate(time.Microsecond)
}

// resolveSession resolves the (snapshot, effective user) pair that every
// downstream read of a session uses.  If subject is non-empty the caller is
// asking to act as that user; authorization of the override is the
// Authorizer's concern.  Resolution happens before any stream element is
// emitted, so validation failures fail fast.
func (a *APIServer) resolveSession(ctx context.Context, readTimestamp time.Time, subject string) (time.Time, string, error) {
	asOf := resolveSnapshot(readTimestamp)
	caller, err := a.Auth.WhoAmI(ctx)
	if err != nil {
		return time.Time{}, "", err
	}
	user := caller
	if subject != "" {
		user, err = a.Auth.ResolveSubject(ctx, caller, subject)
		if err != nil {
			return time.Time{}, "", err
		}
	}
	return asOf, user, nil
}
