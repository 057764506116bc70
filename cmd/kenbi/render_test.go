package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kenbi/internal/diff"
	"github.com/ashita-ai/kenbi/internal/frame"
	"github.com/ashita-ai/kenbi/internal/guardian"
	"github.com/ashita-ai/kenbi/internal/model"
)

const records = `{"event_type":"jdk.ExecutionSample","since_start":0,"frames":[{"class":"java.lang.Thread","method":"run","type":"JIT compiled"}],"samples":1,"weight":1}
{"event_type":"jdk.ExecutionSample","since_start":1000000000,"frames":[{"class":"java.lang.Thread","method":"run","type":"JIT compiled"}],"samples":2,"weight":2}
{"event_type":"jdk.ObjectAllocationSample","since_start":0,"frames":[],"samples":1,"weight":64,"weight_entity":"byte[]"}
`

func TestReadRecords_Batches(t *testing.T) {
	var sizes []int
	var all []*model.StackBasedRecord
	n, err := readRecords(strings.NewReader(records), 2, func(batch []*model.StackBasedRecord) error {
		sizes = append(sizes, len(batch))
		all = append(all, batch...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{2, 1}, sizes)
	assert.Equal(t, model.EventType("jdk.ExecutionSample"), all[0].EventType)
	assert.Equal(t, time.Second, all[1].SinceStart)
	assert.Equal(t, int64(64), all[2].Weight)
	assert.Equal(t, "byte[]", all[2].WeightEntity)
}

func TestReadRecords_Errors(t *testing.T) {
	noop := func([]*model.StackBasedRecord) error { return nil }

	_, err := readRecords(strings.NewReader(`{"event_type":"jdk.ExecutionSample"}`+"\n{oops"), 10, noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")

	_, err = readRecords(strings.NewReader(`{"samples":1}`), 10, noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event_type")

	boom := errors.New("buffer full")
	_, err = readRecords(strings.NewReader(records), 1, func([]*model.StackBasedRecord) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestTimeRange(t *testing.T) {
	assert.Equal(t, model.RangeUnbounded, timeRange(0, 0).Kind())

	r := timeRange(time.Second, 0)
	assert.Equal(t, model.RangeRelative, r.Kind())
	from, to := r.RelativeBounds()
	assert.Equal(t, time.Second, from)
	assert.Zero(t, to)
}

func TestParseID(t *testing.T) {
	_, err := parseID("not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid profile id")
}

func TestRenderTree(t *testing.T) {
	var buf bytes.Buffer
	renderTree(&buf, frame.ExportNode{
		Name: "all", Label: "3 samples", Percent: 100,
		Children: []frame.ExportNode{{Name: "java.lang.Thread#run", Label: "3 samples", Percent: 100}},
	})
	assert.Equal(t, "all  3 samples (100.0%)\n  java.lang.Thread#run  3 samples (100.0%)\n", buf.String())
}

func TestRenderChanges(t *testing.T) {
	var buf bytes.Buffer
	renderChanges(&buf, nil)
	assert.Equal(t, "no changes\n", buf.String())

	buf.Reset()
	renderChanges(&buf, []diff.Change{
		{Path: []string{"all", "com.acme.Handler#serve"}, Kind: diff.KindAdded, Primary: 1200, SelfDelta: 1200},
	})
	out := buf.String()
	assert.Contains(t, out, "com.acme.Handler#serve")
	assert.Contains(t, out, "+1,200")
}

func TestRenderGuardian(t *testing.T) {
	results := []guardian.ExportResult{
		{Rule: "G1 Garbage Collection", Severity: guardian.SeverityWarning, Score: 40, Threshold: 10, Summary: "GC is hot"},
		{Rule: "JIT Compilation", Severity: guardian.SeverityOK, Score: 1, Threshold: 20},
	}

	var buf bytes.Buffer
	renderGuardian(&buf, results, false)
	assert.Contains(t, buf.String(), "G1 Garbage Collection")
	assert.Contains(t, buf.String(), "40.00%")
	assert.NotContains(t, buf.String(), "JIT Compilation")

	buf.Reset()
	renderGuardian(&buf, results, true)
	assert.Contains(t, buf.String(), "JIT Compilation")

	buf.Reset()
	renderGuardian(&buf, results[1:], false)
	assert.Equal(t, "No problems found. 1 rules evaluated.\n", buf.String())
}
