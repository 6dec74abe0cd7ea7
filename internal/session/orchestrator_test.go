package session

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/pipeline"
)

// buildC3D assembles a minimal Intel int16 container for end-to-end runs:
// header block, POINT/ANALOG parameter chain, channel-interleaved frames.
func buildC3D(t *testing.T, labels []string, rateHz float64, signals [][]float64) []byte {
	t.Helper()
	require.NotEmpty(t, signals)
	channels := len(labels)
	samples := len(signals[0])
	spf := 10
	frames := samples / spf
	require.Equal(t, samples, frames*spf)

	var sec []byte
	sec = append(sec, 1, 0x50, 0, 84)
	group := func(id int8, name string) {
		sec = append(sec, byte(len(name)), byte(-id))
		sec = append(sec, name...)
		sec = append(sec, 3, 0, 0)
	}
	param := func(groupID int8, name string, typ int8, dims []int, data []byte) {
		sec = append(sec, byte(len(name)), byte(groupID))
		sec = append(sec, name...)
		next := 2 + 1 + 1 + len(dims) + len(data) + 1
		off := make([]byte, 2)
		binary.LittleEndian.PutUint16(off, uint16(next))
		sec = append(sec, off...)
		sec = append(sec, byte(typ), byte(len(dims)))
		for _, d := range dims {
			sec = append(sec, byte(d))
		}
		sec = append(sec, data...)
		sec = append(sec, 0)
	}
	floatParam := func(groupID int8, name string, values ...float64) {
		data := make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(v)))
		}
		param(groupID, name, 4, []int{len(values)}, data)
	}
	int16Param := func(groupID int8, name string, values ...int16) {
		data := make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
		}
		param(groupID, name, 2, []int{len(values)}, data)
	}

	group(2, "POINT")
	floatParam(2, "RATE", rateHz/float64(spf))
	floatParam(2, "SCALE", 1)

	group(1, "ANALOG")
	int16Param(1, "USED", int16(channels))
	floatParam(1, "RATE", rateHz)
	scales := make([]float64, channels)
	for i := range scales {
		scales[i] = 0.001
	}
	floatParam(1, "SCALE", scales...)

	width := 0
	for _, l := range labels {
		if len(l) > width {
			width = len(l)
		}
	}
	labelData := make([]byte, 0, width*channels)
	for _, l := range labels {
		for len(l) < width {
			l += " "
		}
		labelData = append(labelData, l...)
	}
	param(1, "LABELS", -1, []int{width, channels}, labelData)

	sec = append(sec, 0, 0)
	paramBlocks := (len(sec) + 511) / 512
	sec[2] = byte(paramBlocks)
	sec = append(sec, make([]byte, paramBlocks*512-len(sec))...)

	header := make([]byte, 512)
	header[0] = 2
	header[1] = 0x50
	putWord := func(i, v int) { binary.LittleEndian.PutUint16(header[2*i:], uint16(v)) }
	putWord(2, channels*spf)
	putWord(3, 1)
	putWord(4, frames)
	binary.LittleEndian.PutUint32(header[12:], math.Float32bits(1))
	putWord(8, 2+paramBlocks)
	putWord(9, spf)
	binary.LittleEndian.PutUint32(header[20:], math.Float32bits(float32(rateHz/float64(spf))))

	data := make([]byte, 0, frames*spf*channels*2)
	for frame := 0; frame < frames; frame++ {
		for sub := 0; sub < spf; sub++ {
			for ch := 0; ch < channels; ch++ {
				raw := int16(signals[ch][frame*spf+sub] * 1000)
				word := make([]byte, 2)
				binary.LittleEndian.PutUint16(word, uint16(raw))
				data = append(data, word...)
			}
		}
	}

	blob := append(header, sec...)
	return append(blob, data...)
}

func burstSignal(fsHz float64, bursts int, burstS, restS, amplitude float64) []float64 {
	var signal []float64
	burstN := int(burstS * fsHz)
	restN := int(restS * fsHz)
	for b := 0; b < bursts; b++ {
		for i := 0; i < restN; i++ {
			signal = append(signal, 0.01*math.Sin(2*math.Pi*7*float64(i)/fsHz))
		}
		for i := 0; i < burstN; i++ {
			signal = append(signal, amplitude*math.Sin(2*math.Pi*80*float64(i)/fsHz))
		}
	}
	for i := 0; i < restN; i++ {
		signal = append(signal, 0)
	}
	for len(signal)%10 != 0 {
		signal = append(signal, 0)
	}
	return signal
}

type fixture struct {
	store *memStore
	blob  *memBlob
	orch  *Orchestrator
}

func newFixture() *fixture {
	store := newMemStore()
	blob := &memBlob{objects: make(map[string][]byte)}
	orch := New(store.repository(), blob, nil, pipeline.NewProcessor(pipeline.Options{}), NewHub(), zerolog.Nop())
	return &fixture{store: store, blob: blob, orch: orch}
}

func (f *fixture) addObject(bucket, name string, data []byte) {
	f.blob.objects[bucket+"/"+name] = data
}

func sessionBlob(t *testing.T) []byte {
	fs := 1000.0
	left := burstSignal(fs, 4, 2.5, 1.0, 2.0)
	right := burstSignal(fs, 4, 2.5, 1.0, 1.8)
	return buildC3D(t, []string{"CH1 Raw", "CH2 Raw"}, fs, [][]float64{left, right})
}

func TestCreateSessionDeduplicates(t *testing.T) {
	f := newFixture()
	blob := sessionBlob(t)

	first, created, err := f.orch.CreateSession(context.Background(), CreateRequest{
		PatientID: "P001", FileName: "a.c3d", Data: blob,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "P001S001", first.Code)

	second, created, err := f.orch.CreateSession(context.Background(), CreateRequest{
		PatientID: "P001", FileName: "a-copy.c3d", Data: blob,
	})
	require.NoError(t, err)
	assert.False(t, created, "identical bytes must not create a second session")
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateSessionSequentialCodes(t *testing.T) {
	f := newFixture()

	blobA := sessionBlob(t)
	blobB := append(sessionBlob(t), 0, 0) // different hash

	a, _, err := f.orch.CreateSession(context.Background(), CreateRequest{PatientID: "P001", Data: blobA})
	require.NoError(t, err)
	b, _, err := f.orch.CreateSession(context.Background(), CreateRequest{PatientID: "P001", Data: blobB})
	require.NoError(t, err)

	assert.Equal(t, "P001S001", a.Code)
	assert.Equal(t, "P001S002", b.Code)
}

func TestProcessSessionCompletes(t *testing.T) {
	f := newFixture()
	blob := sessionBlob(t)
	f.addObject("c3d-examples", "P001/a.c3d", blob)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{
		PatientID: "P001", FileName: "a.c3d", Bucket: "c3d-examples", ObjectName: "P001/a.c3d", Data: blob,
	})
	require.NoError(t, err)

	rpe := 5
	dur := 2000.0
	err = f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{
		Params:         pipeline.SessionParams{DurationThresholdMs: &dur, ExpectedContractionsPerMuscle: 12},
		RPEPostSession: &rpe,
	})
	require.NoError(t, err)

	got, err := f.store.repository().Sessions.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusCompleted, got.Status)
	require.NotNil(t, got.TechnicalData)
	assert.InDelta(t, 1000.0, got.TechnicalData.SamplingRateHz, 1e-9)
	require.NotNil(t, got.ScoringConfigID, "seeded rubric must be snapshot on the session")

	rows, err := f.store.repository().Analytics.ListBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, 4, row.TotalContractions)
		assert.NotEmpty(t, row.Contractions)
	}

	scores, err := f.store.repository().Scores.GetBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Greater(t, scores.OverallScore, 0.0)
	require.NotNil(t, scores.EffortScore)
	assert.InDelta(t, 100.0, *scores.EffortScore, 1e-9, "RPE 5 maps to the optimal band")
	assert.True(t, scores.BFRCompliant, "no BFR data means non-BFR session, gate open")

	params, err := f.store.repository().Params.GetBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2.1.0", params.Version)

	settings, err := f.store.repository().Settings.GetBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, settings.TargetContractionsPerMuscle)
}

func TestProcessSessionWriteOrdering(t *testing.T) {
	f := newFixture()
	blob := sessionBlob(t)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{
		PatientID: "P001", Bucket: "b", ObjectName: "o", Data: blob,
	})
	require.NoError(t, err)
	f.addObject("b", "o", blob)

	require.NoError(t, f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{}))

	// No reader may observe scores without analytics, and completed must be
	// the last write of the workflow.
	log := f.store.writeLog
	assert.Less(t, indexOf(log, "analytics"), indexOf(log, "scores"))
	assert.Equal(t, "status_completed", log[len(log)-1])
}

func indexOf(log []string, op string) int {
	for i, entry := range log {
		if entry == op {
			return i
		}
	}
	return -1
}

func TestProcessSessionCorruptFileFails(t *testing.T) {
	f := newFixture()
	corrupt := make([]byte, 128)
	f.addObject("b", "bad.c3d", corrupt)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{
		FileName: "bad.c3d", Bucket: "b", ObjectName: "bad.c3d", Data: corrupt,
	})
	require.NoError(t, err)

	err = f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{})
	require.Error(t, err)
	failure, ok := pipeline.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, pipeline.FailureCorruptFile, failure.Kind)

	got, err := f.store.repository().Sessions.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusFailed, got.Status)
	require.NotNil(t, got.ProcessingErrorMessage)
	assert.NotEmpty(t, got.ProcessingError, "structured failure document must persist")
}

func TestProcessSessionShortRecordingFails(t *testing.T) {
	f := newFixture()
	short := buildC3D(t, []string{"CH1 Raw"}, 1000, [][]float64{make([]float64, 100)})
	f.addObject("b", "short.c3d", short)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{
		FileName: "short.c3d", Bucket: "b", ObjectName: "short.c3d", Data: short,
	})
	require.NoError(t, err)

	err = f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{})
	require.Error(t, err)
	failure, ok := pipeline.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, pipeline.FailureEMGValidation, failure.Kind)
	require.NotNil(t, failure.ClinicalRequirements)
	assert.NotEmpty(t, failure.C3DMetadata, "validation failures carry the parsed container metadata")
	assert.EqualValues(t, 1000, failure.C3DMetadata["sampling_rate_hz"])

	got, _ := f.store.repository().Sessions.GetByID(context.Background(), s.ID)
	assert.Equal(t, persistence.StatusFailed, got.Status)
}

func TestProcessSessionStorageOutageLeavesRetryable(t *testing.T) {
	f := newFixture()
	blob := sessionBlob(t)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{
		Bucket: "b", ObjectName: "o", Data: blob,
	})
	require.NoError(t, err)

	f.blob.unavailable = true
	err = f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{})
	require.Error(t, err)

	got, _ := f.store.repository().Sessions.GetByID(context.Background(), s.ID)
	assert.Equal(t, persistence.StatusProcessing, got.Status,
		"transient outage must leave the session retryable, not failed")

	// Retry after the backend recovers.
	f.blob.unavailable = false
	f.addObject("b", "o", blob)
	require.NoError(t, f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{}))
	got, _ = f.store.repository().Sessions.GetByID(context.Background(), s.ID)
	assert.Equal(t, persistence.StatusCompleted, got.Status)
}

func TestProcessSessionTerminalIsRejected(t *testing.T) {
	f := newFixture()
	blob := sessionBlob(t)
	f.addObject("b", "o", blob)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{Bucket: "b", ObjectName: "o", Data: blob})
	require.NoError(t, err)
	require.NoError(t, f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{}))

	err = f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{})
	assert.ErrorIs(t, err, persistence.ErrTerminalStatus)
}

func TestProcessSessionBFRGateZeroesCompliance(t *testing.T) {
	f := newFixture()
	blob := sessionBlob(t)
	f.addObject("b", "o", blob)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{Bucket: "b", ObjectName: "o", Data: blob})
	require.NoError(t, err)

	over := 80.0
	err = f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{
		Params: pipeline.SessionParams{BFREnabled: true},
		BFR: []BFRInput{
			{Channel: "CH1", ActualPressureAOP: &over},
			{Channel: "CH2", ActualPressureAOP: &over},
		},
	})
	require.NoError(t, err)

	scores, err := f.store.repository().Scores.GetBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, scores.BFRCompliant)
	assert.InDelta(t, 0.0, scores.ComplianceScore, 1e-9, "gate outside [45,55] %%AOP zeroes compliance")

	bfrRows, err := f.store.repository().BFR.ListBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, bfrRows, 2)
	for _, row := range bfrRows {
		assert.False(t, row.SafetyCompliant)
	}
}

func TestBFRSafetyWindowWiderThanTherapeutic(t *testing.T) {
	// Sensor readings between the outer safety bounds and the therapeutic
	// window fail scoring but stay safety-compliant on the monitoring row.
	ptr := func(v float64) *float64 { return &v }
	yes := true

	cases := []struct {
		name      string
		in        BFRInput
		method    string
		compliant bool
	}{
		{"below therapeutic, inside safety", BFRInput{ActualPressureAOP: ptr(42)}, persistence.MeasurementSensor, true},
		{"above therapeutic, inside safety", BFRInput{ActualPressureAOP: ptr(58)}, persistence.MeasurementSensor, true},
		{"outer lower bound", BFRInput{ActualPressureAOP: ptr(40)}, persistence.MeasurementSensor, true},
		{"outer upper bound", BFRInput{ActualPressureAOP: ptr(60)}, persistence.MeasurementSensor, true},
		{"below safety floor", BFRInput{ActualPressureAOP: ptr(38)}, persistence.MeasurementSensor, false},
		{"above safety ceiling", BFRInput{ActualPressureAOP: ptr(62)}, persistence.MeasurementSensor, false},
		{"sensor without reading", BFRInput{}, persistence.MeasurementSensor, false},
		{"manual trusts clinician", BFRInput{ManualCompliance: &yes}, persistence.MeasurementManual, true},
		{"manual without flag", BFRInput{}, persistence.MeasurementManual, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.compliant, bfrCompliant(tc.in, tc.method))
		})
	}
}

func TestRecalculateFromExistingAppliesThresholds(t *testing.T) {
	f := newFixture()
	blob := sessionBlob(t)
	f.addObject("b", "o", blob)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{Bucket: "b", ObjectName: "o", Data: blob})
	require.NoError(t, err)
	require.NoError(t, f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{}))

	// A global MVC far above the signal ceiling fails every contraction.
	impossible := 1000.0
	updated, err := f.orch.RecalculateFromExisting(context.Background(), s.ID, pipeline.SessionParams{
		GlobalMVC:              &impossible,
		MVCThresholdPercentage: 75,
	})
	require.NoError(t, err)

	for name, ca := range updated {
		assert.Zero(t, ca.MVCCompliantCount, "muscle %s", name)
		assert.Zero(t, ca.GoodContractionCount, "muscle %s", name)
		assert.Equal(t, 4, ca.TotalContractions, "recalc never changes detection")
	}

	rows, err := f.store.repository().Analytics.ListBySession(context.Background(), s.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Zero(t, row.MVCCompliantCount)
	}

	scores, err := f.store.repository().Scores.GetBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, scores.IntensityRateLeft, 1e-9)
}

func TestRecalculateFixedPoint(t *testing.T) {
	f := newFixture()
	blob := sessionBlob(t)
	f.addObject("b", "o", blob)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{Bucket: "b", ObjectName: "o", Data: blob})
	require.NoError(t, err)
	require.NoError(t, f.orch.ProcessSession(context.Background(), s.ID, ProcessOptions{}))

	before, err := f.store.repository().Analytics.ListBySession(context.Background(), s.ID)
	require.NoError(t, err)

	_, err = f.orch.RecalculateFromExisting(context.Background(), s.ID, pipeline.SessionParams{})
	require.NoError(t, err)

	after, err := f.store.repository().Analytics.ListBySession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before))

	byName := make(map[string]persistence.ChannelAnalyticsRow)
	for _, row := range before {
		byName[row.ChannelName] = row
	}
	for _, row := range after {
		prev := byName[row.ChannelName]
		assert.Equal(t, prev.MVCCompliantCount, row.MVCCompliantCount)
		assert.Equal(t, prev.DurationCompliantCount, row.DurationCompliantCount)
		assert.Equal(t, prev.GoodContractionCount, row.GoodContractionCount)
	}
}

func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("s1")
	defer hub.Unsubscribe("s1", ch)

	hub.Publish(StatusEvent{SessionID: "s1", Status: persistence.StatusProcessing})
	hub.Publish(StatusEvent{SessionID: "other", Status: persistence.StatusCompleted})

	ev := <-ch
	assert.Equal(t, persistence.StatusProcessing, ev.Status)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for other session: %+v", ev)
	default:
	}
}

func TestPoolProcessesQueue(t *testing.T) {
	f := newFixture()
	blob := sessionBlob(t)
	f.addObject("b", "o", blob)

	s, _, err := f.orch.CreateSession(context.Background(), CreateRequest{Bucket: "b", ObjectName: "o", Data: blob})
	require.NoError(t, err)

	hub := NewHub()
	f.orch.hub = hub
	done := hub.Subscribe(s.ID)
	defer hub.Unsubscribe(s.ID, done)

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(f.orch, config.WorkerConfig{Count: 2, QueueSize: 8}, zerolog.Nop())
	pool.Start(ctx)

	require.NoError(t, pool.Enqueue(ProcessRequest{SessionID: s.ID}))

	for ev := range done {
		if ev.Status == persistence.StatusCompleted || ev.Status == persistence.StatusFailed {
			assert.Equal(t, persistence.StatusCompleted, ev.Status)
			break
		}
	}
	cancel()
	pool.Stop()

	got, _ := f.store.repository().Sessions.GetByID(context.Background(), s.ID)
	assert.Equal(t, persistence.StatusCompleted, got.Status)
}
