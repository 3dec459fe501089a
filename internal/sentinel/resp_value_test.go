package sentinel

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readReplyFrom(t *testing.T, raw string) RESPValue {
	t.Helper()
	v, err := ReadReply(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	return v
}

func TestReadReplyParsesSimpleString(t *testing.T) {
	v := readReplyFrom(t, "+OK\r\n")
	require.Equal(t, byte('+'), v.Kind)
	require.Equal(t, "OK", v.Str)
}

func TestReadReplyParsesError(t *testing.T) {
	v := readReplyFrom(t, "-ERR no such master\r\n")
	require.True(t, v.IsError())
	require.Equal(t, "ERR no such master", v.Str)
}

func TestReadReplyParsesInteger(t *testing.T) {
	v := readReplyFrom(t, ":42\r\n")
	require.Equal(t, byte(':'), v.Kind)
	require.Equal(t, int64(42), v.Int)
}

func TestReadReplyParsesBulkStringAndNullBulk(t *testing.T) {
	v := readReplyFrom(t, "$5\r\nhello\r\n")
	require.Equal(t, "hello", v.Str)
	require.False(t, v.Null)

	nilv := readReplyFrom(t, "$-1\r\n")
	require.True(t, nilv.Null)
}

func TestReadReplyParsesNestedArray(t *testing.T) {
	raw := "*2\r\n$3\r\nfoo\r\n*2\r\n:1\r\n:2\r\n"
	v := readReplyFrom(t, raw)
	require.Equal(t, byte('*'), v.Kind)
	require.Len(t, v.Array, 2)
	require.Equal(t, "foo", v.Array[0].Str)
	require.Len(t, v.Array[1].Array, 2)
	require.Equal(t, int64(1), v.Array[1].Array[0].Int)
	require.Equal(t, int64(2), v.Array[1].Array[1].Int)
}

func TestReadReplyParsesNullArray(t *testing.T) {
	v := readReplyFrom(t, "*-1\r\n")
	require.True(t, v.Null)
}

func TestEncodeCommandProducesRESPArrayOfBulkStrings(t *testing.T) {
	out := EncodeCommand("SENTINEL", "GET-MASTER-ADDR-BY-NAME", "mymaster")
	require.Equal(t, "*3\r\n$8\r\nSENTINEL\r\n$23\r\nGET-MASTER-ADDR-BY-NAME\r\n$8\r\nmymaster\r\n", string(out))
}
