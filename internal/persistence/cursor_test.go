package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/rewards/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := &domain.Cursor{
		UpdatedAt:  time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		ActivityID: "counting-stars",
	}

	token := EncodeCursor(cursor)
	require.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, cursor.UpdatedAt.Equal(decoded.UpdatedAt))
	require.Equal(t, cursor.ActivityID, decoded.ActivityID)
}

func TestEncodeCursorNilIsEmpty(t *testing.T) {
	require.Empty(t, EncodeCursor(nil))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not base64":        "!!!",
		"missing separator": "bm9zZXBhcmF0b3I=",
		"bad timestamp":     "bm90LWEtdGltZXxhY3Rpdml0eQ==",
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCursor(token)
			require.Error(t, err)
		})
	}

	decoded, err := DecodeCursor("   ")
	require.NoError(t, err)
	require.Nil(t, decoded)
}
