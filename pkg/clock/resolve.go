package clock

import (
	"fmt"
	"strings"
	"time"

	"github.com/daviddao/skylog/pkg/aturi"
	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/rkey"
)

// createdAtLayouts are tried in order. Values without a zone are read as UTC.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Resolve returns the canonical timestamp of r in milliseconds (R1).
// Errors wrap model.ErrUnresolvableTimestamp.
func Resolve(r *model.Record) (int64, error) {
	if !r.Kind.HasRecordKey() {
		return ParseCreatedAt(r.CreatedAt)
	}
	return FromURI(r.RecordID)
}

// FromURI decodes the timestamp embedded in the record key of uri.
func FromURI(uri string) (int64, error) {
	key, ok := aturi.RecordKey(uri)
	if !ok {
		return 0, fmt.Errorf("%w: no record key in %q", model.ErrUnresolvableTimestamp, uri)
	}
	k, err := rkey.Parse(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrUnresolvableTimestamp, err)
	}
	return k.Millis(), nil
}

// ParseCreatedAt reads an ISO-8601 timestamp as milliseconds since epoch.
func ParseCreatedAt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty createdAt", model.ErrUnresolvableTimestamp)
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("%w: createdAt %q is not ISO-8601", model.ErrUnresolvableTimestamp, s)
}
