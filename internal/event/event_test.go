package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressRoundsToOneDecimal(t *testing.T) {
	t.Parallel()

	env := Progress("v1", 33.3333, true, "1.2MiB/s", "30s")
	require.Equal(t, KindProgress, env.Kind)

	p, err := ParseProgress(env.Payload)
	require.NoError(t, err)
	require.Equal(t, "v1", p.VideoID)
	require.Equal(t, "33.3", p.Progress)
	require.Equal(t, "1.2MiB/s", p.Speed)
	require.Equal(t, "30s", p.ETA)
}

func TestProgressUnknownTotalUsesSentinel(t *testing.T) {
	t.Parallel()

	env := Progress("v1", 0, false, "N/A", "N/A")
	p, err := ParseProgress(env.Payload)
	require.NoError(t, err)
	require.Equal(t, UnknownProgress, p.Progress)
}

func TestFinishedIsTerminal(t *testing.T) {
	t.Parallel()

	env := Finished()
	require.Equal(t, KindFinished, env.Kind)
	require.Equal(t, "close", env.Payload)
	require.True(t, env.Kind.Terminal())
	require.True(t, KindJobError.Terminal())
	require.False(t, KindProgress.Terminal())
	require.False(t, KindMessage.Terminal())
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	require.Error(t, Envelope{Kind: "bogus"}.Validate())
	require.NoError(t, Message("hi").Validate())
	require.NoError(t, NewVideo("title").Validate())
}
