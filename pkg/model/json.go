package model

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// JSON is the codec used for every record and batch file.
var JSON = jsoniter.Config{
	EscapeHTML:             false,
	DisallowUnknownFields:  false,
	ValidateJsonRawMessage: false,
	CaseSensitive:          true,
	SortMapKeys:            true,
}.Froze()

// Embed types that carry a quoted record.
const (
	embedRecord          = "app.bsky.embed.record"
	embedRecordWithMedia = "app.bsky.embed.recordWithMedia"
)

// UnmarshalJSON decodes one record object. Field order and unknown fields
// are retained for re-encoding. The generic names kind, actorId and
// recordId are accepted in place of $type, did and uri.
func (r *Record) UnmarshalJSON(b []byte) error {
	it := JSON.BorrowIterator(b)
	defer JSON.ReturnIterator(it)

	var fields []field
	complete := it.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		fields = append(fields, field{key: key, raw: it.SkipAndReturnBytes()})
		return it.Error == nil
	})
	if it.Error != nil && it.Error != io.EOF {
		return fmt.Errorf("%w: %v", ErrMalformedContainer, it.Error)
	}
	if !complete {
		return fmt.Errorf("%w: truncated object", ErrMalformedContainer)
	}
	it.Error = nil
	it.WhatIsNext()
	if it.Error != io.EOF {
		return fmt.Errorf("%w: trailing data after object", ErrMalformedContainer)
	}
	return r.fromFields(fields)
}

func (r *Record) fromFields(fields []field) error {
	*r = Record{fields: fields}
	var kind string
	for _, f := range fields {
		var err error
		switch f.key {
		case "$type", "kind":
			err = JSON.Unmarshal(f.raw, &kind)
		case "did", "actorId":
			err = JSON.Unmarshal(f.raw, &r.ActorID)
		case "uri", "recordId":
			err = JSON.Unmarshal(f.raw, &r.RecordID)
		case "createdAt":
			err = JSON.Unmarshal(f.raw, &r.CreatedAt)
		case "ts":
			err = JSON.Unmarshal(f.raw, &r.TS)
		case "deleted":
			err = JSON.Unmarshal(f.raw, &r.Deleted)
		case "subject":
			r.Subject, err = decodeSubject(f.raw)
		case "reply":
			r.ReplyRoot, r.ReplyParent = decodeReply(f.raw)
		case "embed":
			r.Quote = decodeQuote(f.raw)
		}
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformedContainer, f.key, err)
		}
	}
	k, ok := ParseKind(kind)
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedContainer, kind)
	}
	r.Kind = k
	return nil
}

type strongRef struct {
	URI string `json:"uri"`
}

// decodeSubject handles both subject shapes: a bare actor string (follow,
// block) and a {cid, uri} reference (like, repost).
func decodeSubject(raw []byte) (string, error) {
	switch JSON.Get(raw).ValueType() {
	case jsoniter.StringValue:
		var s string
		err := JSON.Unmarshal(raw, &s)
		return s, err
	case jsoniter.ObjectValue:
		var ref strongRef
		err := JSON.Unmarshal(raw, &ref)
		return ref.URI, err
	case jsoniter.NilValue:
		return "", nil
	default:
		return "", fmt.Errorf("unexpected subject %s", raw)
	}
}

func decodeReply(raw []byte) (root, parent string) {
	var reply struct {
		Root   *strongRef `json:"root"`
		Parent *strongRef `json:"parent"`
	}
	if err := JSON.Unmarshal(raw, &reply); err != nil {
		return "", ""
	}
	if reply.Root != nil {
		root = reply.Root.URI
	}
	if reply.Parent != nil {
		parent = reply.Parent.URI
	}
	return root, parent
}

// decodeQuote returns the quoted record of a record or recordWithMedia
// embed, or "" for any other embed.
func decodeQuote(raw []byte) string {
	var embed struct {
		Type   string              `json:"$type"`
		Record jsoniter.RawMessage `json:"record"`
	}
	if err := JSON.Unmarshal(raw, &embed); err != nil || embed.Record == nil {
		return ""
	}
	switch embed.Type {
	case embedRecord:
		var ref strongRef
		if err := JSON.Unmarshal(embed.Record, &ref); err != nil {
			return ""
		}
		return ref.URI
	case embedRecordWithMedia:
		var inner struct {
			Record strongRef `json:"record"`
		}
		if err := JSON.Unmarshal(embed.Record, &inner); err != nil {
			return ""
		}
		return inner.Record.URI
	}
	return ""
}

// MarshalJSON encodes the record with its canonical ts first.
func (r Record) MarshalJSON() ([]byte, error) {
	s := JSON.BorrowStream(nil)
	defer JSON.ReturnStream(s)
	r.WriteJSON(s)
	if s.Error != nil {
		return nil, s.Error
	}
	return append([]byte(nil), s.Buffer()...), nil
}

// WriteJSON streams the record object to s. Decoded records are written
// back with their original fields; records built in code are written from
// their typed fields.
func (r *Record) WriteJSON(s *jsoniter.Stream) {
	s.WriteObjectStart()
	s.WriteObjectField("ts")
	s.WriteInt64(r.TS)
	if r.Deleted {
		s.WriteMore()
		s.WriteObjectField("deleted")
		s.WriteTrue()
	}
	if len(r.fields) > 0 {
		for _, f := range r.fields {
			if f.key == "ts" || f.key == "deleted" {
				continue
			}
			s.WriteMore()
			s.WriteObjectField(f.key)
			s.Write(f.raw)
		}
	} else {
		r.writeTyped(s)
	}
	s.WriteObjectEnd()
}

func (r *Record) writeTyped(s *jsoniter.Stream) {
	str := func(key, val string) {
		s.WriteMore()
		s.WriteObjectField(key)
		s.WriteString(val)
	}
	ref := func(key, uri string) {
		s.WriteMore()
		s.WriteObjectField(key)
		s.WriteObjectStart()
		s.WriteObjectField("uri")
		s.WriteString(uri)
		s.WriteObjectEnd()
	}

	str("$type", string(r.Kind))
	str("did", r.ActorID)
	if r.RecordID != "" {
		str("uri", r.RecordID)
	}
	if r.CreatedAt != "" {
		str("createdAt", r.CreatedAt)
	}
	switch r.Kind {
	case KindFollow, KindBlock:
		if r.Subject != "" {
			str("subject", r.Subject)
		}
	case KindLike, KindRepost:
		if r.Subject != "" {
			ref("subject", r.Subject)
		}
	case KindPost:
		if r.ReplyRoot != "" || r.ReplyParent != "" {
			s.WriteMore()
			s.WriteObjectField("reply")
			s.WriteObjectStart()
			s.WriteObjectField("root")
			s.WriteObjectStart()
			s.WriteObjectField("uri")
			s.WriteString(r.ReplyRoot)
			s.WriteObjectEnd()
			s.WriteMore()
			s.WriteObjectField("parent")
			s.WriteObjectStart()
			s.WriteObjectField("uri")
			s.WriteString(r.ReplyParent)
			s.WriteObjectEnd()
			s.WriteObjectEnd()
		}
		if r.Quote != "" {
			s.WriteMore()
			s.WriteObjectField("embed")
			s.WriteObjectStart()
			s.WriteObjectField("$type")
			s.WriteString(embedRecord)
			ref("record", r.Quote)
			s.WriteObjectEnd()
		}
	}
}
