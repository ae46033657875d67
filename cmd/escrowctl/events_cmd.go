package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"tokenescrow/core/state"
)

func runEventsCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	var (
		since  uint64
		limit  int
		format string
		out    string
	)
	fs.Uint64Var(&since, "since", 0, "return events after this sequence")
	fs.IntVar(&limit, "limit", 0, "maximum number of events (node caps at 1000)")
	fs.StringVar(&format, "export", "", "write events to --out as csv or parquet")
	fs.StringVar(&out, "out", "", "export destination file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if rejectPositional(fs, stderr) {
		return 1
	}
	if limit < 0 {
		return printError(stderr, "--limit must not be negative")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	out = strings.TrimSpace(out)
	switch format {
	case "", "csv", "parquet":
	default:
		return printError(stderr, "--export must be csv or parquet")
	}
	if format != "" && out == "" {
		return printError(stderr, "--out is required with --export")
	}

	params := map[string]interface{}{"since": since}
	if limit > 0 {
		params["limit"] = limit
	}
	result, rpcErr, err := escrowRPCCall("escrow_listEvents", params)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	if format == "" {
		writeRPCResult(stdout, result)
		return 0
	}

	var records []state.EventRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return printError(stderr, fmt.Sprintf("decode events: %v", err))
	}
	switch format {
	case "csv":
		err = writeEventsCSV(out, records)
	case "parquet":
		err = writeEventsParquet(out, records)
	}
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Wrote %d events to %s\n", len(records), out)
	return 0
}

var eventColumns = []string{"sequence", "timestamp", "hash", "type", "attributes"}

type eventRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Timestamp  string `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hash       string `parquet:"name=hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toEventRow(record state.EventRecord) eventRow {
	row := eventRow{
		Sequence:  int64(record.Sequence),
		Timestamp: time.Unix(record.Timestamp, 0).UTC().Format(time.RFC3339),
		Hash:      record.Hash,
	}
	if record.Event != nil {
		row.Type = record.Event.Type
		row.Attributes = formatAttributes(record.Event.Attributes)
	}
	return row
}

// formatAttributes renders attributes as key=value pairs in key order.
func formatAttributes(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, ";")
}

func writeEventsCSV(path string, records []state.EventRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("events: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(eventColumns); err != nil {
		return fmt.Errorf("events: write csv header: %w", err)
	}
	for _, record := range records {
		row := toEventRow(record)
		if err := w.Write([]string{
			strconv.FormatInt(row.Sequence, 10),
			row.Timestamp,
			row.Hash,
			row.Type,
			row.Attributes,
		}); err != nil {
			return fmt.Errorf("events: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("events: flush csv: %w", err)
	}
	return nil
}

func writeEventsParquet(path string, records []state.EventRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("events: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(eventRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("events: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		row := toEventRow(record)
		if err := pw.Write(&row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("events: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("events: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("events: close parquet file: %w", err)
	}
	return nil
}
