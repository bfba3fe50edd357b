// Command segdump inspects snapshot segment files: prints header stats,
// lists records, and resolves keys or ordinals through an index file.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/blockforge/snapseg/snapshot"
)

func main() {
	segPath := flag.String("seg", "", "Path to the segment file (required)")
	idxPath := flag.String("index", "", "Path to the index file (optional)")
	pairs := flag.Bool("pairs", false, "Treat records as alternating key,value pairs")
	key := flag.String("key", "", "Look up a key through the index")
	ordinal := flag.Int64("ordinal", -1, "Read entry by number through the index")
	limit := flag.Int("limit", 20, "Maximum records to list (0 lists all)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if *segPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -seg flag is required.")
		flag.Usage()
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	r, err := snapshot.Open(snapshot.OpenOptions{
		SegmentPath: *segPath,
		IndexPath:   *idxPath,
		Reader: snapshot.ReaderOptions{
			PairLayout: *pairs,
			Logger:     logger,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening snapshot: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	switch {
	case *key != "":
		value, ok, err := r.ReadKey([]byte(*key))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading key: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Key not found.")
			os.Exit(1)
		}
		fmt.Printf("%s\n", preview(value, 0))
	case *ordinal >= 0:
		value, err := r.ReadOrdinal(uint64(*ordinal))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading entry %d: %v\n", *ordinal, err)
			os.Exit(1)
		}
		fmt.Printf("%s\n", preview(value, 0))
	default:
		listRecords(r, *limit)
	}
}

func listRecords(r *snapshot.RecordReader, limit int) {
	store := r.Store()
	fmt.Printf("segment: %s\n", store.FileName())
	fmt.Printf("records: %d (%d empty), data bytes: %d, file bytes: %d\n",
		store.Count(), store.EmptyCount(), store.DataSize(), store.Size())
	if idx := r.Index(); idx != nil {
		fmt.Printf("index: %s, keys: %d, base ordinal: %d\n",
			idx.FileName(), idx.KeyCount(), idx.BaseOrdinal())
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tKEY\tVALUE")
	it := r.Iterator()
	for i := 0; limit == 0 || i < limit; i++ {
		k, v, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Flush()
			fmt.Fprintf(os.Stderr, "Error at record %d: %v\n", i, err)
			os.Exit(1)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, preview(k, 40), preview(v, 60))
	}
	w.Flush()
}

// preview renders record bytes for the terminal, quoting non-printable
// data and truncating at max runes (0 means no limit).
func preview(b []byte, max int) string {
	if b == nil {
		return "-"
	}
	s := strconv.Quote(string(b))
	if max > 0 && len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}
