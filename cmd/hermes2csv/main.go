// Command hermes2csv is the CSV exporter contract named in spec.md §6:
// it reads every event chunk for one manifest root and emits one
// CSV file per event name, columns id/time plus the event's attribute
// names in insertion order.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hermeslog/hermes"
	"github.com/hermeslog/hermes/internal/manifest/fsresolver"
	"github.com/hermeslog/hermes/loader"
	"github.com/hermeslog/hermes/pkg/common"
)

func main() {
	common.InitSlog()

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: hermes2csv <root> <output-dir>")
		os.Exit(2)
	}
	root := os.Args[1]
	outDir := os.Args[2]

	if err := run(root, outDir); err != nil {
		fmt.Fprintln(os.Stderr, "hermes2csv:", err)
		os.Exit(1)
	}
}

func run(root, outDir string) error {
	ctx := context.Background()
	l, err := loader.Open(ctx, []string{root}, fsresolver.Credentials{})
	if err != nil {
		return fmt.Errorf("open loader: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	byName := make(map[string][]*hermes.Event)
	for _, entry := range l.EntriesOfType("event") {
		batch, err := l.DecodeEventChunk(ctx, entry.Handle)
		if err != nil {
			return fmt.Errorf("decode event chunk: %w", err)
		}
		for _, e := range batch.Records() {
			byName[e.Name()] = append(byName[e.Name()], e)
		}
	}

	for name, events := range byName {
		if err := writeCSV(outDir, name, events); err != nil {
			return fmt.Errorf("write csv for %q: %w", name, err)
		}
	}
	return nil
}

func writeCSV(outDir, name string, events []*hermes.Event) error {
	attrNames := collectAttrNames(events)

	path := filepath.Join(outDir, sanitizeFileName(name)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"id", "time"}, attrNames...)
	if err := w.Write(header); err != nil {
		return err
	}

	for _, e := range events {
		row := make([]string, 0, len(header))
		row = append(row, strconv.FormatUint(e.ID(), 10), strconv.FormatUint(e.Time(), 10))
		for _, attrName := range attrNames {
			v, ok := e.Attr(attrName)
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, attrCSVValue(v))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// collectAttrNames unions every attribute name seen across events, in
// first-seen order, since the codec allows a logical stream to carry
// more than one schema across chunks.
func collectAttrNames(events []*hermes.Event) []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range events {
		for _, n := range e.Attrs().Names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

func attrCSVValue(v hermes.AttributeValue) string {
	switch v.Kind() {
	case hermes.AttrString:
		s, _ := v.String()
		return s
	case hermes.AttrBool:
		b, _ := v.Bool()
		return strconv.FormatBool(b)
	case hermes.AttrU64:
		n, _ := v.Uint64()
		return strconv.FormatUint(n, 10)
	case hermes.AttrU32:
		n, _ := v.Uint32()
		return strconv.FormatUint(uint64(n), 10)
	case hermes.AttrU16:
		n, _ := v.Uint16()
		return strconv.FormatUint(uint64(n), 10)
	case hermes.AttrU8:
		n, _ := v.Uint8()
		return strconv.FormatUint(uint64(n), 10)
	default:
		return ""
	}
}

func sanitizeFileName(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(name)
}
