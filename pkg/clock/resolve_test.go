package clock

import (
	"errors"
	"testing"

	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/rkey"
)

func TestResolveFromRecordKey(t *testing.T) {
	r := &model.Record{
		Kind:     model.KindLike,
		RecordID: "at://did:plc:a/app.bsky.feed.like/3jzfcijpj2z2a",
	}
	ts, err := Resolve(r)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ts != 1688137381887 {
		t.Fatalf("Resolve: got %d, want 1688137381887", ts)
	}
}

func TestResolveIgnoresCreatedAtForKeyedKinds(t *testing.T) {
	r := &model.Record{
		Kind:      model.KindPost,
		RecordID:  "at://did:plc:a/app.bsky.feed.post/" + rkey.New(150_000, 0),
		CreatedAt: "1999-01-01T00:00:00Z",
	}
	ts, err := Resolve(r)
	if err != nil || ts != 150 {
		t.Fatalf("Resolve: got %d, %v; want 150", ts, err)
	}
}

func TestResolveProfileUsesCreatedAt(t *testing.T) {
	tests := []struct {
		createdAt string
		want      int64
	}{
		{"2023-05-01T00:00:00Z", 1682899200000},
		{"2023-05-01T00:00:00.123Z", 1682899200123},
		{"2023-05-01T02:00:00+02:00", 1682899200000},
		{"2023-05-01T00:00:00.5", 1682899200500},
		{"2023-05-01 00:00:00Z", 1682899200000},
	}
	for _, tt := range tests {
		r := &model.Record{Kind: model.KindProfile, ActorID: "did:plc:a", CreatedAt: tt.createdAt}
		ts, err := Resolve(r)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.createdAt, err)
			continue
		}
		if ts != tt.want {
			t.Errorf("Resolve(%q) = %d, want %d", tt.createdAt, ts, tt.want)
		}
	}
}

func TestResolveFailures(t *testing.T) {
	tests := []struct {
		name string
		rec  model.Record
	}{
		{"short key", model.Record{Kind: model.KindPost, RecordID: "at://did:plc:a/app.bsky.feed.post/3jzf"}},
		{"non-alphabet key", model.Record{Kind: model.KindPost, RecordID: "at://did:plc:a/app.bsky.feed.post/3jzfcijpj2z01"}},
		{"no uri", model.Record{Kind: model.KindFollow}},
		{"profile without createdAt", model.Record{Kind: model.KindProfile}},
		{"profile with garbage createdAt", model.Record{Kind: model.KindProfile, CreatedAt: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(&tt.rec)
			if !errors.Is(err, model.ErrUnresolvableTimestamp) {
				t.Fatalf("Resolve: got %v, want ErrUnresolvableTimestamp", err)
			}
		})
	}
}
