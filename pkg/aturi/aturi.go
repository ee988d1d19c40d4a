// Package aturi extracts the parts of a record identifier of the form
//
//	at://<actor>/<collection>/<record-key>
//
// Only the shape needed to find the owning actor and the record key is
// checked; collection names are not validated.
package aturi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/daviddao/skylog/pkg/rkey"
)

const scheme = "at://"

// ErrInvalid is returned for identifiers that do not name an actor.
var ErrInvalid = errors.New("aturi: invalid identifier")

// URI is a parsed record identifier.
type URI struct {
	Actor      string
	Collection string
	RecordKey  string
}

// Parse splits uri into actor, collection, and record key. The actor is
// required; the other parts may be empty.
func Parse(uri string) (URI, error) {
	if uri == "" {
		return URI{}, fmt.Errorf("%w: empty string", ErrInvalid)
	}
	rest, ok := strings.CutPrefix(uri, scheme)
	if !ok {
		return URI{}, fmt.Errorf("%w: %q lacks %s prefix", ErrInvalid, uri, scheme)
	}
	parts := strings.SplitN(rest, "/", 3)
	if parts[0] == "" {
		return URI{}, fmt.Errorf("%w: %q has no actor", ErrInvalid, uri)
	}
	u := URI{Actor: parts[0]}
	if len(parts) > 1 {
		u.Collection = parts[1]
	}
	if len(parts) > 2 {
		u.RecordKey = parts[2]
	}
	return u, nil
}

// Actor returns the actor that owns uri.
func Actor(uri string) (string, error) {
	u, err := Parse(uri)
	if err != nil {
		return "", err
	}
	return u.Actor, nil
}

// RecordKey returns the trailing path segment of uri when it has the
// record key shape (13 alphanumeric characters).
func RecordKey(uri string) (string, bool) {
	i := strings.LastIndexByte(uri, '/')
	k := uri[i+1:]
	if !rkey.WellFormed(k) {
		return "", false
	}
	return k, true
}

// String reassembles the identifier.
func (u URI) String() string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString(u.Actor)
	if u.Collection != "" || u.RecordKey != "" {
		b.WriteByte('/')
		b.WriteString(u.Collection)
	}
	if u.RecordKey != "" {
		b.WriteByte('/')
		b.WriteString(u.RecordKey)
	}
	return b.String()
}
