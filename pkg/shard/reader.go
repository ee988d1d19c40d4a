package shard

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/daviddao/skylog/pkg/model"
)

// DefaultReadAhead is the number of decoded records buffered between the
// decoding goroutine and the consumer.
const DefaultReadAhead = 4096

const readBufSize = 256 << 10

// Item is one decoded record, or the anomaly that replaced it.
type Item struct {
	Record model.Record
	Source string // file:line, or file[index] for array shards
	Err    *model.Anomaly
}

// Stream decodes shards in order and calls fn for every item, in file then
// line order. Decoding runs one goroutine ahead of fn, buffering at most
// readAhead items, so the consumer never waits on file I/O for small
// reads. Only fn assigns ordering state, which keeps the output a pure
// function of input order.
//
// Unparseable lines and files are delivered as items with Err set. I/O
// errors opening a shard, and any error returned by fn, stop the stream.
func Stream(ctx context.Context, shards []Shard, readAhead int, fn func(Item) error) error {
	if readAhead < 1 {
		readAhead = DefaultReadAhead
	}
	g, ctx := errgroup.WithContext(ctx)
	items := make(chan Item, readAhead)

	g.Go(func() error {
		defer close(items)
		emit := func(it Item) error {
			select {
			case items <- it:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, s := range shards {
			if err := decodeShard(s, emit); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		for it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// Decode reads a single shard synchronously.
func Decode(s Shard, fn func(Item) error) error {
	return decodeShard(s, fn)
}

func decodeShard(s Shard, emit func(Item) error) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if s.Compressed {
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("open shard %s: %w", s.Name(), err)
		}
		defer dec.Close()
		src = dec
	}
	br := bufio.NewReaderSize(src, readBufSize)

	first, err := firstNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return emit(Item{Source: s.Name(), Err: model.NewAnomaly(model.ErrMalformedContainer, s.Name(), "unreadable shard", err)})
	}
	if first == '[' {
		return decodeArray(s, br, emit)
	}
	return decodeLines(s, br, emit)
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func decodeLines(s Shard, br *bufio.Reader, emit func(Item) error) error {
	line := 0
	for {
		b, readErr := br.ReadBytes('\n')
		if len(b) > 0 {
			line++
			if err := emitLine(s, line, b, emit); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			src := fmt.Sprintf("%s:%d", s.Name(), line)
			return emit(Item{Source: src, Err: model.NewAnomaly(model.ErrMalformedContainer, src, "read failed, rest of shard skipped", readErr)})
		}
	}
}

func emitLine(s Shard, line int, b []byte, emit func(Item) error) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	src := fmt.Sprintf("%s:%d", s.Name(), line)
	var rec model.Record
	if err := rec.UnmarshalJSON(b); err != nil {
		return emit(Item{Source: src, Err: model.NewAnomaly(model.ErrMalformedContainer, src, "record skipped", err)})
	}
	return emit(Item{Record: rec, Source: src})
}

func decodeArray(s Shard, br *bufio.Reader, emit func(Item) error) error {
	it := jsoniter.Parse(model.JSON, br, readBufSize)
	idx := 0
	var emitErr error
	complete := it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		raw := it.SkipAndReturnBytes()
		if it.Error != nil {
			return false
		}
		src := fmt.Sprintf("%s[%d]", s.Name(), idx)
		idx++
		var rec model.Record
		item := Item{Source: src}
		if err := rec.UnmarshalJSON(raw); err != nil {
			item.Err = model.NewAnomaly(model.ErrMalformedContainer, src, "record skipped", err)
		} else {
			item.Record = rec
		}
		emitErr = emit(item)
		return emitErr == nil
	})
	if emitErr != nil {
		return emitErr
	}
	if !complete {
		src := fmt.Sprintf("%s[%d]", s.Name(), idx)
		return emit(Item{Source: src, Err: model.NewAnomaly(model.ErrMalformedContainer, src, "array truncated, rest of shard skipped", it.Error)})
	}
	return nil
}
