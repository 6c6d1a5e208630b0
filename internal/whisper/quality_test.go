package whisper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQuality(t *testing.T) {
	t.Parallel()

	require.Equal(t, QualityMedium, ParseQuality("medium"))
	require.Equal(t, QualityMedium, ParseQuality(" Medium "))
	require.Equal(t, QualityBase, ParseQuality("base"))
	require.Equal(t, QualityBase, ParseQuality(""))
	require.Equal(t, QualityBase, ParseQuality("large-v3"))
}

func TestQualitiesHaveRegisteredDefaults(t *testing.T) {
	t.Parallel()

	for _, q := range Qualities {
		_, ok := LookupModel(string(q))
		require.Truef(t, ok, "tier %s should map to a registered model", q)
	}
}
