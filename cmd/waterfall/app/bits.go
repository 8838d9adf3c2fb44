package app

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/signalhouse/fskmon/internal/storage"
)

const (
	bitsPerWord  = 8
	wordsPerLine = 8
)

// dumpBits replays a session's stored bit events into a plain text stream,
// grouped into 8-bit words, 8 words per line, each line prefixed with the
// offset of its first bit. Returns the number of bits written.
func dumpBits(ctx context.Context, store *storage.Store, sessionID int64, w io.Writer) (int, error) {
	r, err := store.ReadBitEvents(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("reading bit events: %w", err)
	}
	defer r.Close()

	bw := bufio.NewWriter(w)
	var count int
	for {
		rec, ok, err := r.Next(ctx)
		if err != nil {
			return count, fmt.Errorf("reading bit events: %w", err)
		}
		if !ok {
			break
		}

		switch {
		case count%(bitsPerWord*wordsPerLine) == 0:
			if count > 0 {
				bw.WriteByte('\n')
			}
			fmt.Fprintf(bw, "%8d  ", count)
		case count%bitsPerWord == 0:
			bw.WriteByte(' ')
		}
		bw.WriteByte('0' + byte(rec.Bit))
		count++
	}
	if count > 0 {
		bw.WriteByte('\n')
	}
	return count, bw.Flush()
}
