/*

This file serializes the compiled override set into the external applier's
INI contract (charge-lnd format). The pipeline never talks to the node's
policy API itself; it hands this file to the external tool. The write is
atomic (temp file + rename) so the applier can never observe a half-written
config.

*/

package applier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/routerlab/autofee/internal/logger"
	"github.com/routerlab/autofee/internal/types"
)

// FormatSCID renders a numeric short channel id in the block x tx x output
// form the external tool matches channels by.
func FormatSCID(id types.ChannelID) string {
	block := uint64(id) >> 40
	tx := (uint64(id) >> 16) & 0xFFFFFF
	out := uint64(id) & 0xFFFF
	return fmt.Sprintf("%dx%dx%d", block, tx, out)
}

// RenderINI produces the full config text for an override set. Overrides are
// expected in channel-id order (as Compile emits them); identical input
// always renders byte-identical output.
func RenderINI(overrides []types.PolicyOverride) string {
	var b strings.Builder
	for _, o := range overrides {
		scid := FormatSCID(o.ChannelID)
		fmt.Fprintf(&b, "[autofee-%s]\n", scid)
		fmt.Fprintf(&b, "chan.id = %s\n", scid)
		b.WriteString("strategy = static\n")
		if o.BaseFeeMsat != nil {
			fmt.Fprintf(&b, "base_fee_msat = %d\n", *o.BaseFeeMsat)
		}
		fmt.Fprintf(&b, "fee_ppm = %d\n", o.OutboundFeePpm)
		fmt.Fprintf(&b, "inbound_fee_ppm = %d\n", o.InboundFeePpm)
		fmt.Fprintf(&b, "max_htlc_msat = %d\n", o.MaxForwardMsat)
		// Every section ends with a blank line, trailing one included, the
		// same byte shape the applier's own config writer produces.
		b.WriteString("\n")
	}
	return b.String()
}

// WriteINI atomically replaces the override file at path with the rendered
// set.
func WriteINI(path string, overrides []types.PolicyOverride) error {
	log := logger.GetForComponent("applier")

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".autofee-*.ini")
	if err != nil {
		return fmt.Errorf("failed to create temp override file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(RenderINI(overrides)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write override file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod override file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close override file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace override file: %w", err)
	}

	log.Info().Str("path", path).Int("channels", len(overrides)).Msg("Wrote policy override file")
	return nil
}
