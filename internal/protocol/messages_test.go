package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/protocol"
)

func TestDecode_SyncFrame(t *testing.T) {
	id := domain.NewDocumentID()
	b, err := protocol.Encode(protocol.Sync(protocol.TypeSync, id, []byte{0x42, 0x00, 0xff}))
	require.NoError(t, err)
	require.Contains(t, string(b), `"type":"sync"`)
	require.Contains(t, string(b), `"documentId":"`+id.String()+`"`)

	m, err := protocol.Decode(b)
	require.NoError(t, err)
	require.Equal(t, id, m.DocumentID)
	require.Equal(t, []byte{0x42, 0x00, 0xff}, m.Data)
}

func TestDecode_Rejects(t *testing.T) {
	for name, frame := range map[string]string{
		"not json":          `{`,
		"unknown type":      `{"type":"bogus"}`,
		"join no version":   `{"type":"join","senderId":"client-1"}`,
		"sync no data":      `{"type":"sync","documentId":"abc"}`,
		"unavailable no id": `{"type":"doc-unavailable"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := protocol.Decode([]byte(frame))
			require.ErrorIs(t, err, protocol.ErrMalformed)
		})
	}
}

func TestEncode_RefusesMalformed(t *testing.T) {
	_, err := protocol.Encode(&protocol.Message{Type: protocol.TypeRequest})
	require.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestCheckVersion(t *testing.T) {
	require.NoError(t, protocol.CheckVersion(protocol.Version))
	require.NoError(t, protocol.CheckVersion("1.7.2"))
	require.ErrorIs(t, protocol.CheckVersion("2.0.0"), protocol.ErrIncompatible)
	require.ErrorIs(t, protocol.CheckVersion("0.9.0"), protocol.ErrIncompatible)
	require.ErrorIs(t, protocol.CheckVersion("banana"), protocol.ErrIncompatible)
}
