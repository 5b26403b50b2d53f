package applier

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routerlab/autofee/internal/types"
)

func TestFormatSCID(t *testing.T) {
	// 812911x2355x1: (812911<<40) | (2355<<16) | 1.
	id := types.ChannelID(812911<<40 | 2355<<16 | 1)
	assert.Equal(t, "812911x2355x1", FormatSCID(id))

	assert.Equal(t, "0x0x0", FormatSCID(0))
}

func TestRenderINI(t *testing.T) {
	base := int64(1000)
	overrides := []types.PolicyOverride{
		{
			ChannelID:      types.ChannelID(700000<<40 | 1200<<16 | 0),
			OutboundFeePpm: 150,
			InboundFeePpm:  -30,
			MaxForwardMsat: 480_200_000,
		},
		{
			ChannelID:      types.ChannelID(812911<<40 | 2355<<16 | 1),
			OutboundFeePpm: 42,
			InboundFeePpm:  0,
			MaxForwardMsat: 1000,
			BaseFeeMsat:    &base,
		},
	}

	want := `[autofee-700000x1200x0]
chan.id = 700000x1200x0
strategy = static
fee_ppm = 150
inbound_fee_ppm = -30
max_htlc_msat = 480200000

[autofee-812911x2355x1]
chan.id = 812911x2355x1
strategy = static
base_fee_msat = 1000
fee_ppm = 42
inbound_fee_ppm = 0
max_htlc_msat = 1000

`
	assert.Equal(t, want, RenderINI(overrides))

	// Each section ends with a blank line, the last one included.
	assert.True(t, strings.HasSuffix(RenderINI(overrides), "max_htlc_msat = 1000\n\n"))
}

func TestRenderINIStable(t *testing.T) {
	overrides := []types.PolicyOverride{
		{ChannelID: 42, OutboundFeePpm: 100, MaxForwardMsat: 1000},
	}
	assert.Equal(t, RenderINI(overrides), RenderINI(overrides))
}

func TestRenderINIEmpty(t *testing.T) {
	assert.Equal(t, "", RenderINI(nil))
}

func TestWriteINIAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autofee.ini")

	first := []types.PolicyOverride{{ChannelID: 1, OutboundFeePpm: 100}}
	require.NoError(t, WriteINI(path, first))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, RenderINI(first), string(got))

	// Rewriting replaces the whole file.
	second := []types.PolicyOverride{{ChannelID: 2, OutboundFeePpm: 200}}
	require.NoError(t, WriteINI(path, second))

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, RenderINI(second), string(got))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
