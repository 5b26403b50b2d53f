package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routerlab/autofee/internal/applier"
	"github.com/routerlab/autofee/internal/node"
	"github.com/routerlab/autofee/internal/types"
)

type fakeSource struct {
	channels []types.Channel
	forwards []node.Forward
	listErr  error
}

func (f *fakeSource) ListChannels(ctx context.Context) ([]types.Channel, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.channels, nil
}

func (f *fakeSource) ForwardingEvents(ctx context.Context, sinceUnix int64) ([]node.Forward, error) {
	out := make([]node.Forward, 0, len(f.forwards))
	for _, fwd := range f.forwards {
		if fwd.Timestamp.Unix() > sinceUnix {
			out = append(out, fwd)
		}
	}
	return out, nil
}

func (f *fakeSource) LocalPubkey(ctx context.Context) (string, error) {
	return "02abcdef", nil
}

type fakeStore struct {
	cycle    int
	paramsID int64
	cursor   int64

	events map[types.ChannelID][]types.RoutingEvent
	avg    map[types.ChannelID]types.AverageFeeState
	disc   map[types.ChannelID]types.InboundDiscountState
	stag   map[types.ChannelID]types.StagnationState

	snapshots []types.CycleSnapshot

	failAvgLoad map[types.ChannelID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		paramsID:    7,
		events:      make(map[types.ChannelID][]types.RoutingEvent),
		avg:         make(map[types.ChannelID]types.AverageFeeState),
		disc:        make(map[types.ChannelID]types.InboundDiscountState),
		stag:        make(map[types.ChannelID]types.StagnationState),
		failAvgLoad: make(map[types.ChannelID]bool),
	}
}

func (s *fakeStore) IncrementCycleNumber() (int, error) {
	s.cycle++
	return s.cycle, nil
}

func (s *fakeStore) GetActivePolicyParametersID(configName string) (*int64, error) {
	id := s.paramsID
	return &id, nil
}

func (s *fakeStore) GetIngestCursor() (int64, error) { return s.cursor, nil }

func (s *fakeStore) SetIngestCursor(ts int64) error {
	if ts > s.cursor {
		s.cursor = ts
	}
	return nil
}

func (s *fakeStore) AppendRoutingEvents(events []types.RoutingEvent) (int, error) {
	for _, ev := range events {
		s.events[ev.ChannelID] = append(s.events[ev.ChannelID], ev)
	}
	return len(events), nil
}

func (s *fakeStore) LastEventTime(chanID types.ChannelID) (*time.Time, error) {
	evs := s.events[chanID]
	if len(evs) == 0 {
		return nil, nil
	}
	last := evs[0].Timestamp
	for _, ev := range evs[1:] {
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	return &last, nil
}

func (s *fakeStore) PruneEventsBefore(cutoff time.Time) (int64, error) { return 0, nil }

func (s *fakeStore) LoadAverageFee(chanID types.ChannelID) (*types.AverageFeeState, error) {
	if s.failAvgLoad[chanID] {
		return nil, fmt.Errorf("average fee row corrupt for channel %d", chanID)
	}
	if st, ok := s.avg[chanID]; ok {
		return &st, nil
	}
	return nil, nil
}

func (s *fakeStore) SaveAverageFee(st types.AverageFeeState) error {
	s.avg[st.ChannelID] = st
	return nil
}

func (s *fakeStore) LoadDiscountState(chanID types.ChannelID) (*types.InboundDiscountState, error) {
	if st, ok := s.disc[chanID]; ok {
		return &st, nil
	}
	return nil, nil
}

func (s *fakeStore) SaveDiscountState(st types.InboundDiscountState) error {
	s.disc[st.ChannelID] = st
	return nil
}

func (s *fakeStore) LoadStagnationState(chanID types.ChannelID) (*types.StagnationState, error) {
	if st, ok := s.stag[chanID]; ok {
		return &st, nil
	}
	return nil, nil
}

func (s *fakeStore) SaveStagnationState(st types.StagnationState) error {
	s.stag[st.ChannelID] = st
	return nil
}

func (s *fakeStore) SaveCycleSnapshot(snap types.CycleSnapshot) (int64, error) {
	s.snapshots = append(s.snapshots, snap)
	return int64(len(s.snapshots)), nil
}

func testParams() types.PolicyParameters {
	return types.PolicyParameters{
		Alpha:         0.15,
		EmaFloorPpm:   10,
		RetentionDays: 14,

		AdjustmentFactor: 0.05,
		DefaultPivot:     0.5,
		LowFeeDampingPpm: 5,

		TriggerThreshold:     0.20,
		RemoveThreshold:      0.40,
		InitialDiscountPct:   30,
		IncrementDiscountPct: 1,
		MaxDiscountPct:       70,
		RemoteFeeCeilingPpm:  2,

		StagnationWindowHours:    24,
		StagnationRatioThreshold: 0.20,
		StagnationReductionPct:   0.5,

		MaxHtlcRatio:      0.98,
		ReserveOffset:     0.01,
		MinMaxForwardMsat: 1000,
	}
}

func testChannels() []types.Channel {
	return []types.Channel{
		{
			ID: 101, Active: true, PolicyKnown: true,
			Capacity: 1_000_000, LocalBalance: 500_000,
			LocalFeePpm: 100, RemoteFeePpm: 1,
		},
		{
			ID: 202, Active: true, PolicyKnown: true,
			Capacity: 1_000_000, LocalBalance: 100_000,
			LocalFeePpm: 100, RemoteFeePpm: 1,
		},
		{
			ID: 303, Active: false, PolicyKnown: true,
			Capacity: 1_000_000, LocalBalance: 500_000,
			LocalFeePpm: 50,
		},
	}
}

func newTestEngine(t *testing.T, source node.Source, store Store, dryRun bool, overridePath string) *Engine {
	t.Helper()
	eng, err := NewEngine(Config{
		Node:          source,
		Store:         store,
		Params:        testParams(),
		ConfigName:    DEFAULT_POLICY_CONFIG_NAME,
		ConfigVersion: DEFAULT_POLICY_CONFIG_VERSION,
		OverridePath:  overridePath,
		DryRun:        dryRun,
	})
	require.NoError(t, err)
	return eng
}

func TestNewEngineValidation(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}

	_, err := NewEngine(Config{Store: store, Params: testParams(), ConfigName: "x", ConfigVersion: 1, DryRun: true})
	assert.Error(t, err)

	_, err = NewEngine(Config{Node: source, Params: testParams(), ConfigName: "x", ConfigVersion: 1, DryRun: true})
	assert.Error(t, err)

	_, err = NewEngine(Config{Node: source, Store: store, Params: testParams(), ConfigVersion: 1, DryRun: true})
	assert.Error(t, err)

	// Live mode requires an override path.
	_, err = NewEngine(Config{Node: source, Store: store, Params: testParams(), ConfigName: "x", ConfigVersion: 1, DryRun: false})
	assert.Error(t, err)
}

func TestRunCycleEndToEnd(t *testing.T) {
	forwardTime := time.Now().Add(-time.Hour)
	source := &fakeSource{
		channels: testChannels(),
		forwards: []node.Forward{
			{ChanIDOut: 101, Timestamp: forwardTime, AmtOutMsat: 1_000_000, FeeMsat: 70},
			// Unknown channel: skipped but still advances the cursor.
			{ChanIDOut: 999, Timestamp: forwardTime, AmtOutMsat: 1_000_000, FeeMsat: 10},
		},
	}
	store := newFakeStore()
	eng := newTestEngine(t, source, store, true, "")

	eng.RunCycle(context.Background())

	require.Len(t, store.snapshots, 1)
	snap := store.snapshots[0]

	assert.Equal(t, 1, snap.CycleNumber)
	assert.True(t, snap.DryRun)
	require.NotNil(t, snap.ParamsID)
	assert.Equal(t, int64(7), *snap.ParamsID)

	// Inactive channel 303 is out of scope.
	assert.Equal(t, 2, snap.ChannelCount)
	assert.Equal(t, 1, snap.EventsIngested)
	assert.Equal(t, 1, snap.EventsSkipped)
	assert.Equal(t, forwardTime.Unix(), store.cursor)

	require.Len(t, snap.Overrides, 2)

	// Channel 101: one 100 ppm true-fee event seeds the EMA at 100; at ratio
	// 0.5 the target equals the EMA, so the fee holds. Ratio is above the
	// remove threshold, so no discount.
	o := snap.Overrides[0]
	assert.Equal(t, types.ChannelID(101), o.ChannelID)
	assert.Equal(t, int64(100), o.OutboundFeePpm)
	assert.Equal(t, int64(0), o.InboundFeePpm)
	assert.Equal(t, int64(480_200_000), o.MaxForwardMsat)

	// Channel 202: no events, EMA seeds at the current fee (100). Ratio 0.1
	// gives target 180; one 5% step lands on 104. First observation below
	// the trigger threshold: the discount gate stays closed.
	o = snap.Overrides[1]
	assert.Equal(t, types.ChannelID(202), o.ChannelID)
	assert.Equal(t, int64(104), o.OutboundFeePpm)
	assert.Equal(t, int64(0), o.InboundFeePpm)
	assert.Equal(t, int64(88_200_000), o.MaxForwardMsat)
	assert.False(t, store.disc[202].HasCrossedTrigger)

	// Drained channel 202 is below the stagnation ratio threshold.
	assert.False(t, store.stag[202].IsStagnant)

	for _, sr := range snap.StageResults {
		assert.False(t, sr.Failed(), "stage %s failed: %s", sr.Stage, sr.Err)
	}
}

func TestRunCycleHonorsPivotOverride(t *testing.T) {
	forwardTime := time.Now().Add(-time.Hour)
	source := &fakeSource{
		channels: testChannels(),
		forwards: []node.Forward{
			{ChanIDOut: 101, Timestamp: forwardTime, AmtOutMsat: 1_000_000, FeeMsat: 70},
		},
	}
	store := newFakeStore()

	params := testParams()
	params.PivotOverrides = map[types.ChannelID]float64{101: 0.2}
	eng, err := NewEngine(Config{
		Node:          source,
		Store:         store,
		Params:        params,
		ConfigName:    DEFAULT_POLICY_CONFIG_NAME,
		ConfigVersion: DEFAULT_POLICY_CONFIG_VERSION,
		DryRun:        true,
	})
	require.NoError(t, err)

	eng.RunCycle(context.Background())

	require.Len(t, store.snapshots, 1)
	snap := store.snapshots[0]
	require.Len(t, snap.Overrides, 2)

	// Channel 101's 0.2 pivot puts the curve's zero point at ratio 0.4;
	// sitting at ratio 0.5 the target is 0, so the 100 ppm fee steps down
	// 5% to 95.
	assert.Equal(t, types.ChannelID(101), snap.Overrides[0].ChannelID)
	assert.Equal(t, int64(95), snap.Overrides[0].OutboundFeePpm)

	// Channel 202 keeps the default pivot and still steps toward its
	// ratio-0.1 target of 180.
	assert.Equal(t, types.ChannelID(202), snap.Overrides[1].ChannelID)
	assert.Equal(t, int64(104), snap.Overrides[1].OutboundFeePpm)
}

func TestRunCycleIdempotentWithoutNewEvents(t *testing.T) {
	source := &fakeSource{
		channels: testChannels(),
		forwards: []node.Forward{
			{ChanIDOut: 101, Timestamp: time.Now().Add(-time.Hour), AmtOutMsat: 1_000_000, FeeMsat: 70},
		},
	}
	store := newFakeStore()
	eng := newTestEngine(t, source, store, true, "")

	eng.RunCycle(context.Background())
	eng.RunCycle(context.Background())

	require.Len(t, store.snapshots, 2)
	assert.Equal(t, store.snapshots[0].Overrides, store.snapshots[1].Overrides)
	assert.Equal(t, 0, store.snapshots[1].EventsIngested)
}

func TestRunCycleDropsChannelOnStateFailure(t *testing.T) {
	source := &fakeSource{channels: testChannels()}
	store := newFakeStore()
	store.failAvgLoad[202] = true
	eng := newTestEngine(t, source, store, true, "")

	eng.RunCycle(context.Background())

	require.Len(t, store.snapshots, 1)
	snap := store.snapshots[0]

	// Channel 202 fails closed: no override emitted, the last written policy
	// stays in force.
	require.Len(t, snap.Overrides, 1)
	assert.Equal(t, types.ChannelID(101), snap.Overrides[0].ChannelID)

	var emaResult *types.StageResult
	for i := range snap.StageResults {
		if snap.StageResults[i].Stage == "ema_tracker" {
			emaResult = &snap.StageResults[i]
		}
	}
	require.NotNil(t, emaResult)
	assert.Equal(t, 1, emaResult.Errored)
	assert.Equal(t, 1, emaResult.Processed)
}

func TestRunCycleWritesOverrideFileWhenLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autofee.ini")

	source := &fakeSource{channels: testChannels()}
	store := newFakeStore()
	eng := newTestEngine(t, source, store, false, path)

	eng.RunCycle(context.Background())

	got, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Len(t, store.snapshots, 1)
	assert.Equal(t, applier.RenderINI(store.snapshots[0].Overrides), string(got))
	assert.False(t, store.snapshots[0].DryRun)
}

func TestRunCycleAbortsWhenChannelListingFails(t *testing.T) {
	source := &fakeSource{listErr: fmt.Errorf("node unreachable")}
	store := newFakeStore()
	eng := newTestEngine(t, source, store, true, "")

	eng.RunCycle(context.Background())

	// The aborted cycle still leaves an audit record.
	require.Len(t, store.snapshots, 1)
	snap := store.snapshots[0]
	assert.Empty(t, snap.Overrides)
	require.NotEmpty(t, snap.StageResults)
	assert.True(t, snap.StageResults[0].Failed())
}
