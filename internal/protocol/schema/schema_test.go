package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/indexd/internal/protocol/tlv"
	"github.com/danmuck/indexd/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiredFields(t *testing.T) {
	testlog.Start(t)

	fields := []tlv.Field{
		tlv.String(FieldPath, "/repo/a.go"),
		tlv.String(FieldPattern, "needle"),
	}
	require.NoError(t, Validate(ReqSearchText, fields))
	require.NoError(t, Validate(ReqPing, nil))
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)

	fields := []tlv.Field{
		tlv.String(FieldPath, "/repo/a.go"),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	require.NoError(t, Validate(ReqLookupProject, fields))
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)

	err := Validate(ReqSearchText, []tlv.Field{tlv.String(FieldPath, "/repo/a.go")})
	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, FieldPattern, ve.FieldID)
	require.Equal(t, "missing required field", ve.Reason)
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)

	err := Validate(RespMatchPath, []tlv.Field{
		tlv.String(FieldRoot, "/repo"),
		tlv.String(FieldIgnored, "yes"),
		tlv.Bool(FieldIncluded, true),
	})
	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, FieldIgnored, ve.FieldID)
	require.Equal(t, "type mismatch", ve.Reason)
}

func TestValidateUnknownKind(t *testing.T) {
	testlog.Start(t)

	require.False(t, Known(77))
	err := Validate(77, nil)
	require.EqualError(t, err, "schema: message_type=77: unknown message_type")
}

func TestKindNames(t *testing.T) {
	testlog.Start(t)

	require.Equal(t, RespMatchPath, ResponseFor(ReqMatchPath))
	require.Equal(t, "matchPath", Name(ReqMatchPath))
	require.Equal(t, "matchPathResponse", Name(RespMatchPath))
	require.Equal(t, "scanStarted", Name(EvtScanStarted))
	require.Equal(t, "kind(999)", Name(999))
	for kind := range names {
		require.True(t, Known(kind), Name(kind))
	}
}
