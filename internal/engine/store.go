/*

This file defines the engine's view of durable state. The pipeline only ever
touches this interface; the production implementation delegates to the state
package, and tests substitute an in-memory fake.

*/

package engine

import (
	"time"

	"github.com/routerlab/autofee/internal/state"
	"github.com/routerlab/autofee/internal/types"
)

// Store is the durable-state surface one cycle needs.
type Store interface {
	IncrementCycleNumber() (int, error)
	GetActivePolicyParametersID(configName string) (*int64, error)

	GetIngestCursor() (int64, error)
	SetIngestCursor(ts int64) error
	AppendRoutingEvents(events []types.RoutingEvent) (int, error)
	LastEventTime(chanID types.ChannelID) (*time.Time, error)
	PruneEventsBefore(cutoff time.Time) (int64, error)

	LoadAverageFee(chanID types.ChannelID) (*types.AverageFeeState, error)
	SaveAverageFee(st types.AverageFeeState) error
	LoadDiscountState(chanID types.ChannelID) (*types.InboundDiscountState, error)
	SaveDiscountState(st types.InboundDiscountState) error
	LoadStagnationState(chanID types.ChannelID) (*types.StagnationState, error)
	SaveStagnationState(st types.StagnationState) error

	SaveCycleSnapshot(snap types.CycleSnapshot) (int64, error)
}

// DBStore implements Store on the process-wide database connection.
type DBStore struct{}

func (DBStore) IncrementCycleNumber() (int, error) { return state.IncrementCycleNumber() }

func (DBStore) GetActivePolicyParametersID(configName string) (*int64, error) {
	return state.GetActivePolicyParametersID(configName)
}

func (DBStore) GetIngestCursor() (int64, error) { return state.GetIngestCursor() }

func (DBStore) SetIngestCursor(ts int64) error { return state.SetIngestCursor(ts) }

func (DBStore) AppendRoutingEvents(events []types.RoutingEvent) (int, error) {
	return state.AppendRoutingEvents(events)
}

func (DBStore) LastEventTime(chanID types.ChannelID) (*time.Time, error) {
	return state.LastEventTime(chanID)
}

func (DBStore) PruneEventsBefore(cutoff time.Time) (int64, error) {
	return state.PruneEventsBefore(cutoff)
}

func (DBStore) LoadAverageFee(chanID types.ChannelID) (*types.AverageFeeState, error) {
	return state.LoadAverageFee(chanID)
}

func (DBStore) SaveAverageFee(st types.AverageFeeState) error { return state.SaveAverageFee(st) }

func (DBStore) LoadDiscountState(chanID types.ChannelID) (*types.InboundDiscountState, error) {
	return state.LoadDiscountState(chanID)
}

func (DBStore) SaveDiscountState(st types.InboundDiscountState) error {
	return state.SaveDiscountState(st)
}

func (DBStore) LoadStagnationState(chanID types.ChannelID) (*types.StagnationState, error) {
	return state.LoadStagnationState(chanID)
}

func (DBStore) SaveStagnationState(st types.StagnationState) error {
	return state.SaveStagnationState(st)
}

func (DBStore) SaveCycleSnapshot(snap types.CycleSnapshot) (int64, error) {
	return state.SaveCycleSnapshot(snap)
}
