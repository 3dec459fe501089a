package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sentinel/internal/sentinel"
)

func TestEncodeRESPSimpleString(t *testing.T) {
	out := encodeRESP(sentinel.RESPValue{Kind: '+', Str: "OK"})
	require.Equal(t, "+OK\r\n", string(out))
}

func TestEncodeRESPError(t *testing.T) {
	out := encodeRESP(sentinel.RESPValue{Kind: '-', Str: "ERR no such master"})
	require.Equal(t, "-ERR no such master\r\n", string(out))
}

func TestEncodeRESPInteger(t *testing.T) {
	out := encodeRESP(sentinel.RESPValue{Kind: ':', Int: 7})
	require.Equal(t, ":7\r\n", string(out))
}

func TestEncodeRESPBulkStringAndNullBulk(t *testing.T) {
	out := encodeRESP(sentinel.RESPValue{Kind: '$', Str: "mymaster"})
	require.Equal(t, "$8\r\nmymaster\r\n", string(out))

	nilOut := encodeRESP(sentinel.RESPValue{Kind: '$', Null: true})
	require.Equal(t, "$-1\r\n", string(nilOut))
}

func TestEncodeRESPNestedArray(t *testing.T) {
	v := sentinel.RESPValue{Kind: '*', Array: []sentinel.RESPValue{
		{Kind: '$', Str: "127.0.0.1"},
		{Kind: '$', Str: "6379"},
	}}
	out := encodeRESP(v)
	require.Equal(t, "*2\r\n$9\r\n127.0.0.1\r\n$4\r\n6379\r\n", string(out))
}

func TestEncodeRESPNullArray(t *testing.T) {
	out := encodeRESP(sentinel.RESPValue{Kind: '*', Null: true})
	require.Equal(t, "*-1\r\n", string(out))
}
