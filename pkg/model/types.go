// Package model defines the core domain types for skylog.
//
// Skylog rebuilds a globally time-ordered view of a social network's event
// log from daily shards written by many independent producers:
//
//   - Every record carries a canonical timestamp (TS, milliseconds since the
//     Unix epoch), taken from the timestamp embedded in its record key, or
//     from createdAt for kinds without one.
//
//   - Records are reordered in bounded memory into numbered batches, then
//     scanned forward to find references to posts and actors that never
//     appear in the log. Referenced but absent posts are reinserted as
//     tombstones at the position their own record key implies.
package model

// Kind enumerates the record types in the log. Values are the collection
// identifiers used on the wire.
type Kind string

const (
	KindPost    Kind = "app.bsky.feed.post"
	KindLike    Kind = "app.bsky.feed.like"
	KindRepost  Kind = "app.bsky.feed.repost"
	KindFollow  Kind = "app.bsky.graph.follow"
	KindBlock   Kind = "app.bsky.graph.block"
	KindProfile Kind = "app.bsky.actor.profile"
)

var kindAliases = map[string]Kind{
	"post":    KindPost,
	"like":    KindLike,
	"repost":  KindRepost,
	"follow":  KindFollow,
	"block":   KindBlock,
	"profile": KindProfile,
}

// ParseKind maps a wire value to a Kind. Both collection identifiers
// ("app.bsky.feed.post") and short names ("post") are accepted.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindPost, KindLike, KindRepost, KindFollow, KindBlock, KindProfile:
		return k, true
	}
	k, ok := kindAliases[s]
	return k, ok
}

// HasRecordKey reports whether records of this kind are identified by a
// record key that embeds their creation time.
func (k Kind) HasRecordKey() bool { return k != KindProfile }

// Short returns the short name of the kind ("post", "like", ...).
func (k Kind) Short() string {
	for name, v := range kindAliases {
		if v == k {
			return name
		}
	}
	return string(k)
}

// Record is one immutable event from the log.
//
// The typed fields are the ones the pipeline reasons about. Every other
// field of the source object is kept verbatim and written back out, so the
// pipeline never loses content it does not understand.
type Record struct {
	Kind      Kind
	ActorID   string // owning account
	RecordID  string // at:// identifier; empty for profiles
	CreatedAt string // producer-supplied, not trusted for ordering
	TS        int64  // canonical timestamp, milliseconds
	Deleted   bool   // synthetic tombstone

	ReplyRoot   string // Post: thread root
	ReplyParent string // Post: direct parent
	Quote       string // Post: embedded record
	Subject     string // Follow/Block: actor; Like/Repost: record

	fields []field
}

type field struct {
	key string
	raw []byte
}

// NewTombstone returns the placeholder for a post that is referenced but
// absent from the log.
func NewTombstone(actorID, recordID string, ts int64) Record {
	return Record{
		Kind:     KindPost,
		ActorID:  actorID,
		RecordID: recordID,
		TS:       ts,
		Deleted:  true,
	}
}

// IsTombstone reports whether r was synthesized by the pipeline.
func (r *Record) IsTombstone() bool { return r.Deleted && r.Kind == KindPost }

// References returns the record identifiers r points at, in the order
// reply root, reply parent, quote, subject. Follow and block subjects are
// actors and are not included.
func (r *Record) References() []string {
	var refs []string
	switch r.Kind {
	case KindPost:
		if r.ReplyRoot != "" {
			refs = append(refs, r.ReplyRoot)
		}
		if r.ReplyParent != "" {
			refs = append(refs, r.ReplyParent)
		}
		if r.Quote != "" {
			refs = append(refs, r.Quote)
		}
	case KindLike, KindRepost:
		if r.Subject != "" {
			refs = append(refs, r.Subject)
		}
	}
	return refs
}

// Batch is an ordered, bounded run of records persisted as one unit.
// Batches are numbered from 0 and produced and consumed in number order.
type Batch struct {
	Seq     int      `json:"-"`
	Records []Record `json:"records"`
}

// Bounds returns the smallest and largest TS in the batch. ok is false for
// an empty batch.
func (b *Batch) Bounds() (lo, hi int64, ok bool) {
	if len(b.Records) == 0 {
		return 0, 0, false
	}
	lo, hi = b.Records[0].TS, b.Records[0].TS
	for _, r := range b.Records[1:] {
		if r.TS < lo {
			lo = r.TS
		}
		if r.TS > hi {
			hi = r.TS
		}
	}
	return lo, hi, true
}
