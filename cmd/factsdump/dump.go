package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/skypro1111/voice-archive-service/internal/cryptostore"
	"github.com/skypro1111/voice-archive-service/internal/facts"
	"github.com/skypro1111/voice-archive-service/internal/records"
)

const undecryptable = "<unable to decrypt>"

func dumpAll(ctx context.Context, w io.Writer, store records.Store, cipher *cryptostore.Cipher) error {
	recs, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "no records")
		return nil
	}

	for i := range recs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := writeRecord(w, &recs[i], cipher); err != nil {
			return err
		}
	}
	return nil
}

func dumpOne(ctx context.Context, w io.Writer, store records.Store, cipher *cryptostore.Cipher, userID string) error {
	rec, err := store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	return writeRecord(w, rec, cipher)
}

func writeRecord(w io.Writer, rec *records.Record, cipher *cryptostore.Cipher) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "user_id:\t%s\n", rec.UserID)
	fmt.Fprintf(tw, "start_time:\t%s\n", formatTime(rec.StartTime))
	fmt.Fprintf(tw, "end_time:\t%s\n", formatTime(rec.EndTime))
	fmt.Fprintf(tw, "duration:\t%.1fs\n", rec.DurationSeconds)
	fmt.Fprintf(tw, "updated_at:\t%s\n", formatTime(rec.UpdatedAt))

	var stored facts.Facts
	if err := cipher.DecryptJSON(rec.EncryptedFacts, &stored); err != nil {
		fmt.Fprintf(tw, "facts:\t%s\n", undecryptable)
		return tw.Flush()
	}

	if len(stored) == 0 {
		fmt.Fprintf(tw, "facts:\t(none)\n")
	}
	for _, k := range stored.Keys() {
		fmt.Fprintf(tw, "  %s:\t%s\n", k, stored[k])
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
