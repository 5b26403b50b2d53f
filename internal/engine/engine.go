package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/routerlab/autofee/internal/analyzer"
	"github.com/routerlab/autofee/internal/applier"
	"github.com/routerlab/autofee/internal/logger"
	"github.com/routerlab/autofee/internal/node"
	"github.com/routerlab/autofee/internal/policy"
	"github.com/routerlab/autofee/internal/types"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Export constants for use in main.go
	DEFAULT_POLICY_CONFIG_NAME    = "default_autofee_policy"
	DEFAULT_POLICY_CONFIG_VERSION = 1
)

// Engine drives the per-cycle fee pipeline with all its dependencies
type Engine struct {
	// Core dependencies
	logger zerolog.Logger
	node   node.Source
	store  Store
	params types.PolicyParameters

	// Configuration
	configName    string
	configVersion int
	overridePath  string
	dryRun        bool

	// Runtime state
	cycleCount int
}

// Config holds the configuration for creating a new Engine instance
type Config struct {
	Node          node.Source
	Store         Store
	Params        types.PolicyParameters
	ConfigName    string
	ConfigVersion int
	OverridePath  string
	DryRun        bool
}

// NewEngine creates a new Engine instance with dependency injection
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	eng := &Engine{
		logger:        logger.GetForComponent("engine_core"),
		node:          cfg.Node,
		store:         cfg.Store,
		params:        cfg.Params,
		configName:    cfg.ConfigName,
		configVersion: cfg.ConfigVersion,
		overridePath:  cfg.OverridePath,
		dryRun:        cfg.DryRun,
		cycleCount:    0,
	}

	eng.logger.Info().
		Str("configName", eng.configName).
		Int("configVersion", eng.configVersion).
		Bool("dryRun", eng.dryRun).
		Msg("Engine instance created successfully with dependency injection")

	return eng, nil
}

// validateEngineConfig validates the engine configuration
func validateEngineConfig(cfg Config) error {
	if cfg.Node == nil {
		return fmt.Errorf("node source cannot be nil")
	}
	if cfg.Store == nil {
		return fmt.Errorf("store cannot be nil")
	}
	if cfg.ConfigName == "" {
		return fmt.Errorf("config name cannot be empty")
	}
	if cfg.ConfigVersion <= 0 {
		return fmt.Errorf("config version must be positive")
	}
	if !cfg.DryRun && cfg.OverridePath == "" {
		return fmt.Errorf("override path cannot be empty outside dry-run mode")
	}
	return nil
}

// RunLoop starts the main engine loop with the specified interval
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().
		Dur("interval", interval).
		Msg("Starting engine main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	e.cycleCount++
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating fee cycle")
	e.RunCycle(ctx)
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Fee cycle completed")

	// Continue with ticker
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.cycleCount++
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating fee cycle")
			e.RunCycle(ctx)
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Fee cycle completed")
		}
	}
}

// RunCycle executes a complete fee management cycle
func (e *Engine) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()

	// Generate unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := e.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting Fee Cycle ---")

	// --- Initialize Cycle Snapshot ---
	snapshot := types.CycleSnapshot{
		CycleNumber:  e.getCycleNumber(),
		CycleID:      cycleID,
		Timestamp:    cycleStartTime,
		ParamsID:     e.getPolicyParamsID(),
		DryRun:       e.dryRun,
		StageResults: make([]types.StageResult, 0, 8),
	}

	cycleLogger.Info().
		Int("cycleNumber", snapshot.CycleNumber).
		Time("timestamp", cycleStartTime).
		Msg("Cycle snapshot initialized")

	// --- Step 1: Channel Snapshot ---
	cycleLogger.Info().Msg("Step 1: Taking channel snapshot...")
	allChannels, err := e.node.ListChannels(ctx)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: Failed to list channels.")
		snapshot.StageResults = append(snapshot.StageResults, types.StageResult{
			Stage: "channel_snapshot",
			Err:   err.Error(),
		})
		e.saveCycleSnapshot(cycleLogger, snapshot, cycleStartTime)
		return
	}

	knownChannels := make(map[types.ChannelID]types.Channel, len(allChannels))
	channels := make([]types.Channel, 0, len(allChannels))
	for _, ch := range allChannels {
		knownChannels[ch.ID] = ch
		if !ch.Active {
			continue
		}
		if !e.params.ChannelInScope(ch.ID) {
			continue
		}
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
	snapshot.ChannelCount = len(channels)
	snapshot.StageResults = append(snapshot.StageResults, types.StageResult{
		Stage:     "channel_snapshot",
		Processed: len(channels),
		Skipped:   len(allChannels) - len(channels),
	})
	cycleLogger.Info().
		Int("open", len(allChannels)).
		Int("inScope", len(channels)).
		Msg("Step 1: Channel snapshot complete.")

	// Channels whose persisted state could not be read or written this cycle.
	// They are excluded from the compiled output so the external applier keeps
	// the last known-good policy in force.
	dropped := make(map[types.ChannelID]bool)
	set := policy.NewOverrideSet()

	// --- Step 2: Ledger Ingest ---
	cycleLogger.Info().Msg("Step 2: Ingesting forwarding events...")
	newEvents, ingestRes := e.ingestLedger(ctx, cycleLogger, knownChannels, cycleStartTime)
	snapshot.EventsIngested = ingestRes.Processed
	snapshot.EventsSkipped = ingestRes.Skipped
	snapshot.StageResults = append(snapshot.StageResults, ingestRes)
	cycleLogger.Info().
		Int("ingested", ingestRes.Processed).
		Int("skipped", ingestRes.Skipped).
		Msg("Step 2: Ledger ingest complete.")

	// --- Step 3: EMA Tracking ---
	cycleLogger.Info().Msg("Step 3: Updating true-fee averages...")
	windowStart := cycleStartTime.AddDate(0, 0, -e.params.RetentionDays)
	emas, emaRes := e.trackAverages(cycleLogger, channels, newEvents, set, dropped, windowStart)
	snapshot.StageResults = append(snapshot.StageResults, emaRes)
	cycleLogger.Info().
		Int("updated", emaRes.Processed).
		Int("errored", emaRes.Errored).
		Msg("Step 3: EMA tracking complete.")

	// --- Step 4: Liquidity Curve ---
	cycleLogger.Info().Msg("Step 4: Applying liquidity curve...")
	curveRes := e.applyCurve(cycleLogger, channels, emas, set, dropped)
	snapshot.StageResults = append(snapshot.StageResults, curveRes)
	cycleLogger.Info().
		Int("adjusted", curveRes.Processed).
		Int("skipped", curveRes.Skipped).
		Int("errored", curveRes.Errored).
		Msg("Step 4: Liquidity curve complete.")

	// --- Step 5: Inbound Discounts ---
	cycleLogger.Info().Msg("Step 5: Evaluating inbound discounts...")
	discountRes := e.evaluateDiscounts(cycleLogger, channels, emas, set, dropped)
	snapshot.StageResults = append(snapshot.StageResults, discountRes)
	cycleLogger.Info().
		Int("evaluated", discountRes.Processed).
		Int("errored", discountRes.Errored).
		Msg("Step 5: Inbound discounts complete.")

	// --- Step 6: Stagnation Detection ---
	cycleLogger.Info().Msg("Step 6: Detecting stagnant channels...")
	stagnationRes := e.detectStagnation(cycleLogger, channels, set, dropped, cycleStartTime)
	snapshot.StageResults = append(snapshot.StageResults, stagnationRes)
	cycleLogger.Info().
		Int("evaluated", stagnationRes.Processed).
		Int("errored", stagnationRes.Errored).
		Msg("Step 6: Stagnation detection complete.")

	// --- Step 7: HTLC Sizing ---
	cycleLogger.Info().Msg("Step 7: Sizing max forwardable amounts...")
	htlcRes := e.sizeMaxForwards(cycleLogger, channels, set, dropped)
	snapshot.StageResults = append(snapshot.StageResults, htlcRes)
	cycleLogger.Info().Int("sized", htlcRes.Processed).Msg("Step 7: HTLC sizing complete.")

	// --- Step 8: Fee Floors ---
	cycleLogger.Info().Msg("Step 8: Enforcing fee floors...")
	raised := policy.ApplyFloors(set, emas, e.params)
	snapshot.StageResults = append(snapshot.StageResults, types.StageResult{
		Stage:     "fee_floor",
		Processed: raised,
	})
	cycleLogger.Info().Int("raised", raised).Msg("Step 8: Fee floors complete.")

	// --- Step 9: Channel Groups ---
	cycleLogger.Info().Msg("Step 9: Synchronizing channel groups...")
	synced := policy.SyncGroups(set, e.params)
	snapshot.StageResults = append(snapshot.StageResults, types.StageResult{
		Stage:     "channel_groups",
		Processed: synced,
	})
	cycleLogger.Info().Int("synced", synced).Msg("Step 9: Channel groups complete.")

	// --- Step 10: Compile & Publish ---
	cycleLogger.Info().Msg("Step 10: Compiling policy overrides...")
	overrides := set.Compile()
	snapshot.Overrides = overrides
	snapshot.OverrideCount = len(overrides)

	applyRes := types.StageResult{Stage: "publish", Processed: len(overrides)}
	if e.dryRun {
		cycleLogger.Info().
			Int("overrides", len(overrides)).
			Msg("Dry-run mode: skipping policy file write.")
	} else if err := applier.WriteINI(e.overridePath, overrides); err != nil {
		cycleLogger.Error().Err(err).Str("path", e.overridePath).Msg("Failed to write policy overrides.")
		applyRes.Err = err.Error()
		applyRes.Errored = len(overrides)
		applyRes.Processed = 0
	} else {
		cycleLogger.Info().
			Int("overrides", len(overrides)).
			Str("path", e.overridePath).
			Msg("Step 10: Policy overrides published.")
	}
	snapshot.StageResults = append(snapshot.StageResults, applyRes)

	e.saveCycleSnapshot(cycleLogger, snapshot, cycleStartTime)

	cycleLogger.Info().
		Dur("duration", time.Since(cycleStartTime)).
		Int("channels", snapshot.ChannelCount).
		Int("overrides", snapshot.OverrideCount).
		Msg("--- Fee Cycle Complete ---")
}

// ingestLedger pulls new forwarding events from the node, reconstructs their
// true fees and appends them to the routing ledger. The ingest cursor advances
// past every fetched event, including skipped ones, so a malformed record is
// never refetched. Returns the appended events keyed by channel; the EMA stage
// folds exactly these, so an event is never counted twice.
func (e *Engine) ingestLedger(ctx context.Context, log zerolog.Logger, known map[types.ChannelID]types.Channel, now time.Time) (map[types.ChannelID][]types.RoutingEvent, types.StageResult) {
	res := types.StageResult{Stage: "ledger_ingest"}

	cursor, err := e.store.GetIngestCursor()
	if err != nil {
		log.Error().Err(err).Msg("Ledger ingest failed: could not read ingest cursor.")
		res.Err = err.Error()
		return nil, res
	}

	forwards, err := e.node.ForwardingEvents(ctx, cursor)
	if err != nil {
		log.Error().Err(err).Msg("Ledger ingest failed: could not fetch forwarding events.")
		res.Err = err.Error()
		return nil, res
	}

	events := make([]types.RoutingEvent, 0, len(forwards))
	byChannel := make(map[types.ChannelID][]types.RoutingEvent)
	maxTs := cursor
	for _, fwd := range forwards {
		if ts := fwd.Timestamp.Unix(); ts > maxTs {
			maxTs = ts
		}
		ch, ok := known[fwd.ChanIDOut]
		if !ok {
			res.Skipped++
			continue
		}
		if fwd.AmtOutMsat <= 0 || fwd.FeeMsat < 0 {
			res.Skipped++
			continue
		}
		trueFeeMsat, trueFeePpm := analyzer.ReconstructTrueFee(
			fwd.AmtOutMsat, fwd.FeeMsat, ch.LocalFeePpm, ch.LocalBaseFeeMsat, ch.PolicyKnown)
		ev := types.RoutingEvent{
			ChannelID:   fwd.ChanIDOut,
			Timestamp:   fwd.Timestamp,
			AmtOutMsat:  fwd.AmtOutMsat,
			FeeMsat:     fwd.FeeMsat,
			TrueFeeMsat: trueFeeMsat,
			TrueFeePpm:  trueFeePpm,
		}
		events = append(events, ev)
		byChannel[fwd.ChanIDOut] = append(byChannel[fwd.ChanIDOut], ev)
	}

	inserted, err := e.store.AppendRoutingEvents(events)
	if err != nil {
		log.Error().Err(err).Msg("Ledger ingest failed: could not append routing events.")
		res.Err = err.Error()
		return nil, res
	}
	res.Processed = inserted

	if maxTs > cursor {
		if err := e.store.SetIngestCursor(maxTs); err != nil {
			log.Error().Err(err).Msg("Ledger ingest: failed to advance ingest cursor.")
			res.Err = err.Error()
			return byChannel, res
		}
	}

	cutoff := now.AddDate(0, 0, -e.params.RetentionDays)
	pruned, err := e.store.PruneEventsBefore(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Ledger ingest: pruning failed, stale rows retained.")
	} else if pruned > 0 {
		log.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("Pruned routing ledger.")
	}

	return byChannel, res
}

// trackAverages folds the cycle's newly ingested events into each channel's
// persisted true-fee EMA and returns the updated values keyed by channel.
// With no new events the value carries forward unchanged, so rerunning the
// pipeline without fresh forwards reproduces the same output.
func (e *Engine) trackAverages(log zerolog.Logger, channels []types.Channel, newEvents map[types.ChannelID][]types.RoutingEvent, set *policy.OverrideSet, dropped map[types.ChannelID]bool, windowStart time.Time) (map[types.ChannelID]sdkmath.LegacyDec, types.StageResult) {
	res := types.StageResult{Stage: "ema_tracker"}
	emas := make(map[types.ChannelID]sdkmath.LegacyDec, len(channels))

	if err := e.params.ValidateEMA(); err != nil {
		log.Error().Err(err).Msg("EMA stage skipped: invalid parameters.")
		res.Err = err.Error()
		return emas, res
	}

	for _, ch := range channels {
		if dropped[ch.ID] {
			continue
		}
		prior, err := e.store.LoadAverageFee(ch.ID)
		if err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "load average fee", err)
			continue
		}
		events := newEvents[ch.ID]
		if len(events) > 0 {
			inWindow := events[:0]
			for _, ev := range events {
				if !ev.Timestamp.Before(windowStart) {
					inWindow = append(inWindow, ev)
				}
			}
			events = inWindow
		}
		st, err := analyzer.UpdateAverageFee(prior, ch.ID, events, ch.LocalFeePpm, e.params)
		if err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "update average fee", err)
			continue
		}
		if err := e.store.SaveAverageFee(st); err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "save average fee", err)
			continue
		}
		emas[ch.ID] = st.EmaPpm
		res.Processed++
	}

	return emas, res
}

// applyCurve walks every in-scope channel toward its liquidity-derived target
// fee. Stagnant channels keep their current fee here; the stagnation stage
// owns their reductions.
func (e *Engine) applyCurve(log zerolog.Logger, channels []types.Channel, emas map[types.ChannelID]sdkmath.LegacyDec, set *policy.OverrideSet, dropped map[types.ChannelID]bool) types.StageResult {
	res := types.StageResult{Stage: "liquidity_curve"}

	if err := e.params.ValidateCurve(); err != nil {
		log.Error().Err(err).Msg("Curve stage skipped: invalid parameters.")
		res.Err = err.Error()
		return res
	}

	for _, ch := range channels {
		if dropped[ch.ID] {
			continue
		}
		ema, ok := emas[ch.ID]
		if !ok {
			res.Skipped++
			continue
		}
		stag, err := e.store.LoadStagnationState(ch.ID)
		if err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "load stagnation state", err)
			continue
		}
		if stag != nil && stag.IsStagnant {
			set.SetOutboundFee(ch.ID, ch.LocalFeePpm)
			res.Skipped++
			continue
		}
		target, err := analyzer.TargetFee(ema, ch.LiquidityRatio(), e.params.PivotFor(ch.ID))
		if err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "compute target fee", err)
			continue
		}
		newFee, err := analyzer.ConvergeFee(ch.LocalFeePpm, target, e.params.AdjustmentFactor, e.params.LowFeeDampingPpm)
		if err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "converge fee", err)
			continue
		}
		set.SetOutboundFee(ch.ID, newFee)
		res.Processed++
	}

	return res
}

// evaluateDiscounts runs the inbound-discount state machine for every channel
// and writes the resulting inbound fee, zero included, into the override set.
func (e *Engine) evaluateDiscounts(log zerolog.Logger, channels []types.Channel, emas map[types.ChannelID]sdkmath.LegacyDec, set *policy.OverrideSet, dropped map[types.ChannelID]bool) types.StageResult {
	res := types.StageResult{Stage: "inbound_discount"}

	if err := e.params.ValidateDiscount(); err != nil {
		log.Error().Err(err).Msg("Discount stage skipped: invalid parameters.")
		res.Err = err.Error()
		return res
	}

	for _, ch := range channels {
		if dropped[ch.ID] {
			continue
		}
		ema, ok := emas[ch.ID]
		if !ok {
			res.Skipped++
			continue
		}
		prior, err := e.store.LoadDiscountState(ch.ID)
		if err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "load discount state", err)
			continue
		}
		st := analyzer.EvaluateDiscount(prior, ch, ch.LiquidityRatio(), ema, e.params)
		if err := e.store.SaveDiscountState(st); err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "save discount state", err)
			continue
		}
		set.SetInboundFee(ch.ID, st.DiscountPpm)
		res.Processed++
	}

	return res
}

// detectStagnation updates each channel's stagnation state from the ledger and
// walks both fee sides toward zero on channels marked stagnant.
func (e *Engine) detectStagnation(log zerolog.Logger, channels []types.Channel, set *policy.OverrideSet, dropped map[types.ChannelID]bool, now time.Time) types.StageResult {
	res := types.StageResult{Stage: "stagnation"}

	if err := e.params.ValidateStagnation(); err != nil {
		log.Error().Err(err).Msg("Stagnation stage skipped: invalid parameters.")
		res.Err = err.Error()
		return res
	}

	stagnant := 0
	for _, ch := range channels {
		if dropped[ch.ID] {
			continue
		}
		prior, err := e.store.LoadStagnationState(ch.ID)
		if err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "load stagnation state", err)
			continue
		}
		lastEvent, err := e.store.LastEventTime(ch.ID)
		if err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "read last event time", err)
			continue
		}
		st := analyzer.EvaluateStagnation(prior, ch.ID, ch.LiquidityRatio(), lastEvent, now, e.params)
		if err := e.store.SaveStagnationState(st); err != nil {
			e.dropChannel(log, set, dropped, &res, ch.ID, "save stagnation state", err)
			continue
		}
		if st.IsStagnant {
			stagnant++
			outbound := ch.LocalFeePpm
			if cur, ok := set.OutboundFee(ch.ID); ok {
				outbound = cur
			}
			set.SetOutboundFee(ch.ID, analyzer.ReduceStagnantFee(outbound, e.params.StagnationReductionPct))

			inbound := ch.LocalInboundFeePpm
			if cur, ok := set.InboundFee(ch.ID); ok {
				inbound = cur
			}
			set.SetInboundFee(ch.ID, analyzer.ReduceStagnantFee(inbound, e.params.StagnationReductionPct))
		}
		res.Processed++
	}

	if stagnant > 0 {
		log.Info().Int("stagnant", stagnant).Msg("Stagnant channels detected, fees reduced.")
	}

	return res
}

// sizeMaxForwards advertises a max forwardable amount derived from each
// channel's usable local balance.
func (e *Engine) sizeMaxForwards(log zerolog.Logger, channels []types.Channel, set *policy.OverrideSet, dropped map[types.ChannelID]bool) types.StageResult {
	res := types.StageResult{Stage: "htlc_sizer"}

	if err := e.params.ValidateHTLC(); err != nil {
		log.Error().Err(err).Msg("HTLC stage skipped: invalid parameters.")
		res.Err = err.Error()
		return res
	}

	for _, ch := range channels {
		if dropped[ch.ID] {
			continue
		}
		set.SetMaxForward(ch.ID, analyzer.ComputeMaxForwardMsat(ch, e.params))
		res.Processed++
	}

	return res
}

// dropChannel records a per-channel state failure and removes the channel from
// this cycle's output. The external applier keeps its last written policy.
func (e *Engine) dropChannel(log zerolog.Logger, set *policy.OverrideSet, dropped map[types.ChannelID]bool, res *types.StageResult, id types.ChannelID, action string, err error) {
	log.Warn().
		Err(err).
		Uint64("channelId", uint64(id)).
		Str("action", action).
		Msg("Channel dropped from cycle output after state failure.")
	res.Errored++
	dropped[id] = true
	set.Drop(id)
}

// getCycleNumber returns the next global cycle number, falling back to a
// timestamp-derived value when the counter is unavailable.
func (e *Engine) getCycleNumber() int {
	n, err := e.store.IncrementCycleNumber()
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to increment cycle counter, using timestamp fallback.")
		return int(time.Now().Unix())
	}
	return n
}

// getPolicyParamsID returns the active parameter set's database ID, if any.
func (e *Engine) getPolicyParamsID() *int64 {
	id, err := e.store.GetActivePolicyParametersID(e.configName)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to resolve active policy parameters ID.")
		return nil
	}
	return id
}

// saveCycleSnapshot persists the cycle's audit record. Snapshot failures are
// logged but never abort the cycle.
func (e *Engine) saveCycleSnapshot(log zerolog.Logger, snapshot types.CycleSnapshot, startTime time.Time) {
	snapshot.DurationMs = time.Since(startTime).Milliseconds()
	if _, err := e.store.SaveCycleSnapshot(snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to save cycle snapshot.")
		return
	}
	log.Info().Int("cycleNumber", snapshot.CycleNumber).Msg("Cycle snapshot saved.")
}
