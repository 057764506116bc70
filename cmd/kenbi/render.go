package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/ashita-ai/kenbi/internal/diff"
	"github.com/ashita-ai/kenbi/internal/flamegraph"
	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/guardian"
	"github.com/ashita-ai/kenbi/internal/model"
)

// readRecords decodes a stream of JSON records and hands them to fn in
// batches of at most batch. It returns the number of records read.
func readRecords(r io.Reader, batch int, fn func([]*model.StackBasedRecord) error) (int, error) {
	if batch <= 0 {
		batch = 1000
	}
	dec := json.NewDecoder(r)
	var (
		buf []*model.StackBasedRecord
		n   int
	)
	for {
		var rec model.StackBasedRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("record %d: %w", n+1, err)
		}
		if rec.EventType == "" {
			return n, fmt.Errorf("record %d: missing event_type", n+1)
		}
		buf = append(buf, &rec)
		n++
		if len(buf) == batch {
			if err := fn(buf); err != nil {
				return n, err
			}
			buf = nil
		}
	}
	if len(buf) > 0 {
		if err := fn(buf); err != nil {
			return n, err
		}
	}
	return n, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader(header)
	tbl.SetAutoWrapText(false)
	tbl.SetBorder(false)
	return tbl
}

func renderProfiles(w io.Writer, profiles []model.ProfileInfo, now time.Time) {
	tbl := newTable(w, "ID", "Name", "Project", "Source", "GC", "Event Types", "Created")
	for _, p := range profiles {
		types := make([]string, len(p.EventTypes))
		for i, t := range p.EventTypes {
			types[i] = string(t)
		}
		tbl.Append([]string{
			p.ID.String(),
			p.Name,
			p.Project,
			string(p.EventSource),
			string(p.GarbageCollector),
			strings.Join(types, ","),
			humanize.RelTime(p.CreatedAt, now, "ago", "from now"),
		})
	}
	tbl.Render()
}

// renderTree prints the exported tree indented by depth.
func renderTree(w io.Writer, root frame.ExportNode) {
	var walk func(n frame.ExportNode, depth int)
	walk = func(n frame.ExportNode, depth int) {
		fmt.Fprintf(w, "%s%s  %s (%.1f%%)\n", strings.Repeat("  ", depth), n.Name, n.Label, n.Percent)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
}

func renderHotFrames(w io.Writer, hot []flamegraph.HotFrame) {
	tbl := newTable(w, "Frame", "Type", "Self", "Percent")
	for _, h := range hot {
		tbl.Append([]string{
			h.Name,
			h.FrameType,
			humanize.Comma(h.Self),
			strconv.FormatFloat(h.Percent, 'f', 1, 64) + "%",
		})
	}
	tbl.Render()
}

func renderChanges(w io.Writer, changes []diff.Change) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "no changes")
		return
	}
	tbl := newTable(w, "Kind", "Self Delta", "Primary", "Secondary", "Frame")
	for _, c := range changes {
		tbl.Append([]string{
			c.Kind.String(),
			signed(c.SelfDelta),
			humanize.Comma(c.Primary),
			humanize.Comma(c.Secondary),
			c.Name(),
		})
	}
	tbl.Render()
}

func signed(v int64) string {
	if v > 0 {
		return "+" + humanize.Comma(v)
	}
	return humanize.Comma(v)
}

// renderGuardian prints actionable results, and every result when all is
// set.
func renderGuardian(w io.Writer, results []guardian.ExportResult, all bool) {
	tbl := newTable(w, "Severity", "Rule", "Category", "Score", "Threshold", "Summary")
	shown := 0
	for _, r := range results {
		if !all && r.Severity != guardian.SeverityWarning && r.Severity != guardian.SeverityInfo {
			continue
		}
		shown++
		tbl.Append([]string{
			r.Severity.String(),
			r.Rule,
			string(r.Category),
			strconv.FormatFloat(r.Score, 'f', 2, 64) + "%",
			strconv.FormatFloat(r.Threshold, 'f', 2, 64) + "%",
			r.Summary,
		})
	}
	if shown == 0 {
		fmt.Fprintf(w, "No problems found. %d rules evaluated.\n", len(results))
		return
	}
	tbl.Render()
}
