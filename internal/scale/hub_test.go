package scale

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partialpick/internal/models"
)

func weightFrame(scaleID string, weight float64, stable bool) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"weight","data":{"scaleId":%q,"weight":%v,"unit":"kg","stable":%v}}`,
		scaleID, weight, stable))
}

func newTestHub() (*Hub, *Link, *Link) {
	small := NewLink(models.ScaleSmall, LinkConfig{URL: "ws://unused-small"})
	big := NewLink(models.ScaleBig, LinkConfig{URL: "ws://unused-big"})
	return NewHub(small, big), small, big
}

func TestHub_ActiveDefaultsToSmall(t *testing.T) {
	hub, _, _ := newTestHub()
	assert.Equal(t, models.ScaleSmall, hub.Active())
}

func TestHub_SwitchActive(t *testing.T) {
	hub, _, _ := newTestHub()

	require.NoError(t, hub.SwitchActive(models.ScaleBig))
	assert.Equal(t, models.ScaleBig, hub.Active())

	err := hub.SwitchActive(models.ScaleID("medium"))
	assert.Error(t, err, "unknown scale must be rejected")
	assert.Equal(t, models.ScaleBig, hub.Active(), "failed switch must not change the active scale")
}

func TestHub_CurrentWeightSentinelWhenNotConnected(t *testing.T) {
	hub, small, _ := newTestHub()

	// Deliver a sample while the link is DISCONNECTED; the hub must still
	// present the zero sentinel because the link is not live.
	small.handleFrame(weightFrame("small", 12.5, true))

	assert.True(t, hub.CurrentWeight().IsZero())
}

func TestHub_RoutesOnlyActiveScaleSamples(t *testing.T) {
	hub, small, big := newTestHub()

	var got []models.WeightSample
	hub.OnSample(func(s models.WeightSample) { got = append(got, s) })

	small.handleFrame(weightFrame("small", 1.0, true))
	big.handleFrame(weightFrame("big", 100.0, true))
	small.handleFrame(weightFrame("small", 1.1, true))

	require.Len(t, got, 2, "only the active (small) scale's samples should pass")
	assert.Equal(t, 1.0, got[0].Weight)
	assert.Equal(t, 1.1, got[1].Weight)

	require.NoError(t, hub.SwitchActive(models.ScaleBig))
	big.handleFrame(weightFrame("big", 100.5, true))

	require.Len(t, got, 3)
	assert.Equal(t, models.ScaleBig, got[2].ScaleID)
	assert.Equal(t, 100.5, got[2].Weight)
}

func TestHub_SendCommandNotConnected(t *testing.T) {
	hub, _, _ := newTestHub()

	// Routed to the active link, which is down.
	err := hub.SendCommand(CommandTare, "")
	assert.ErrorIs(t, err, ErrLinkNotConnected)

	// Explicit routing to the big scale, also down.
	err = hub.SendCommand(CommandReset, models.ScaleBig)
	assert.ErrorIs(t, err, ErrLinkNotConnected)

	err = hub.SendCommand(CommandTare, models.ScaleID("medium"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLinkNotConnected)
}

func TestHub_StatesProjection(t *testing.T) {
	hub, _, _ := newTestHub()

	states := hub.States()
	require.Len(t, states, 2)
	assert.Equal(t, models.StateDisconnected, states[models.ScaleSmall])
	assert.Equal(t, models.StateDisconnected, states[models.ScaleBig])
}
