package domain_test

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

func TestDocumentID_RoundTrip(t *testing.T) {
	id := domain.NewDocumentID()
	got, err := domain.ParseDocumentID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.NotEqual(t, id, domain.NewDocumentID())
}

func TestDocumentID_Rejects(t *testing.T) {
	raw, err := base58.Decode(domain.NewDocumentID().String())
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	for name, s := range map[string]string{
		"empty":        "",
		"not base58":   "0OIl",
		"short":        base58.Encode(raw[:10]),
		"bad checksum": base58.Encode(raw),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := domain.ParseDocumentID(s)
			require.ErrorIs(t, err, domain.ErrInvalidDocumentID)
		})
	}
}

func TestExecutionContext(t *testing.T) {
	require.True(t, domain.ClientContext().IsClient())
	require.False(t, domain.ServerContext().IsClient())
	require.False(t, domain.ExecutionContext{}.IsClient())
}
