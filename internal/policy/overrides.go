/*

This file contains the override set, the in-memory object the pipeline stages
build up over one cycle. Overlay is field-level and order-sensitive: a later
stage's write to a field replaces the earlier value for that field only, and
fields it does not touch keep their earlier values.

*/

package policy

import (
	"sort"

	"github.com/routerlab/autofee/internal/types"
)

type overrideEntry struct {
	outbound   *int64
	inbound    *int64
	maxForward *int64
	baseFee    *int64
}

// OverrideSet accumulates per-channel policy fields across pipeline stages
// and compiles them into a deterministic override list.
type OverrideSet struct {
	entries map[types.ChannelID]*overrideEntry
}

// NewOverrideSet returns an empty set.
func NewOverrideSet() *OverrideSet {
	return &OverrideSet{entries: make(map[types.ChannelID]*overrideEntry)}
}

func (s *OverrideSet) entry(id types.ChannelID) *overrideEntry {
	e, ok := s.entries[id]
	if !ok {
		e = &overrideEntry{}
		s.entries[id] = e
	}
	return e
}

// SetOutboundFee writes the channel's outbound fee rate (ppm, ≥ 0).
func (s *OverrideSet) SetOutboundFee(id types.ChannelID, ppm int64) {
	if ppm < 0 {
		ppm = 0
	}
	s.entry(id).outbound = &ppm
}

// SetInboundFee writes the channel's inbound fee rate (ppm, may be negative).
func (s *OverrideSet) SetInboundFee(id types.ChannelID, ppm int64) {
	s.entry(id).inbound = &ppm
}

// SetMaxForward writes the channel's maximum forwardable amount in msat.
func (s *OverrideSet) SetMaxForward(id types.ChannelID, msat int64) {
	s.entry(id).maxForward = &msat
}

// SetBaseFee writes the channel's base fee in msat.
func (s *OverrideSet) SetBaseFee(id types.ChannelID, msat int64) {
	s.entry(id).baseFee = &msat
}

// OutboundFee returns the channel's outbound fee if any stage has written it.
func (s *OverrideSet) OutboundFee(id types.ChannelID) (int64, bool) {
	if e, ok := s.entries[id]; ok && e.outbound != nil {
		return *e.outbound, true
	}
	return 0, false
}

// InboundFee returns the channel's inbound fee if any stage has written it.
func (s *OverrideSet) InboundFee(id types.ChannelID) (int64, bool) {
	if e, ok := s.entries[id]; ok && e.inbound != nil {
		return *e.inbound, true
	}
	return 0, false
}

// Drop removes every field for the channel. Used to fail closed when a
// channel's persisted state is unreadable: no override is emitted and the
// prior external policy stays in force.
func (s *OverrideSet) Drop(id types.ChannelID) {
	delete(s.entries, id)
}

// Channels returns the ids present in the set, ascending.
func (s *OverrideSet) Channels() []types.ChannelID {
	ids := make([]types.ChannelID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of channels with at least one field set.
func (s *OverrideSet) Len() int {
	return len(s.entries)
}

// Compile materializes the set into override records ordered by channel id.
// Identical set contents always compile to an identical slice.
func (s *OverrideSet) Compile() []types.PolicyOverride {
	out := make([]types.PolicyOverride, 0, len(s.entries))
	for _, id := range s.Channels() {
		e := s.entries[id]
		o := types.PolicyOverride{ChannelID: id}
		if e.outbound != nil {
			o.OutboundFeePpm = *e.outbound
		}
		if e.inbound != nil {
			o.InboundFeePpm = *e.inbound
		}
		if e.maxForward != nil {
			o.MaxForwardMsat = *e.maxForward
		}
		if e.baseFee != nil {
			v := *e.baseFee
			o.BaseFeeMsat = &v
		}
		out = append(out, o)
	}
	return out
}
