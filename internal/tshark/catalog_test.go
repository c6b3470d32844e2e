package tshark

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

var testCatalog = strings.Join([]string{
	"P\tNG Application Protocol\tngap",
	"F\tRAN-UE-NGAP-ID\tngap.RAN_UE_NGAP_ID\tFT_UINT32\tngap",
	"F\tAMF-UE-NGAP-ID\tngap.AMF_UE_NGAP_ID\tFT_UINT64\tngap",
	"F\tStream Identifier\thttp2.streamid\tFT_UINT31\thttp2",
	"T\tsomething else",
	"",
}, "\n")

func TestSearchCatalog(t *testing.T) {
	tests := []struct {
		name string
		fq   FieldQuery
		want []string
	}{
		{"all fields", FieldQuery{Limit: 10}, []string{"ngap.RAN_UE_NGAP_ID", "ngap.AMF_UE_NGAP_ID", "http2.streamid"}},
		{"with protocols", FieldQuery{Query: "ngap", Limit: 10, IncludeProtocols: true}, []string{"ngap", "ngap.RAN_UE_NGAP_ID", "ngap.AMF_UE_NGAP_ID"}},
		{"case insensitive", FieldQuery{Query: "STREAM", Limit: 10}, []string{"http2.streamid"}},
		{"case sensitive", FieldQuery{Query: "STREAM", CaseSensitive: true, Limit: 10}, nil},
		{"regex", FieldQuery{Query: `^(ran|amf)-ue`, IsRegex: true, Limit: 10}, []string{"ngap.RAN_UE_NGAP_ID", "ngap.AMF_UE_NGAP_ID"}},
		{"limit", FieldQuery{Query: "ngap", Limit: 1}, []string{"ngap.RAN_UE_NGAP_ID"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := searchCatalog(testCatalog, tt.fq)
			require.NoError(t, err)
			var fields []string
			for _, f := range got {
				fields = append(fields, f.Field)
			}
			assert.Equal(t, tt.want, fields)
		})
	}
}

func TestListFields(t *testing.T) {
	e, r := newTestEngine(t, func([]string) fakeProc { return fakeProc{stdout: testCatalog} })

	got, err := e.ListFields(context.Background(), FieldQuery{Query: "streamid", Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, []model.FieldInfo{{
		Kind: "F", Name: "Stream Identifier", Field: "http2.streamid", Type: "FT_UINT31", Proto: "http2",
	}}, got)
	assert.Equal(t, []string{"tshark", "-G", "fields"}, r.calls[0])

	_, err = e.ListFields(context.Background(), FieldQuery{Limit: 0})
	requireCode(t, err, qerr.InvalidArgument)

	_, err = e.ListFields(context.Background(), FieldQuery{Query: "[", IsRegex: true, Limit: 1})
	requireCode(t, err, qerr.InvalidArgument)
}

func TestListFieldsFailure(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc { return fakeProc{exit: 1, stderr: "bad"} })
	_, err := e.ListFields(context.Background(), FieldQuery{Limit: 1})
	requireCode(t, err, qerr.Internal)
}
