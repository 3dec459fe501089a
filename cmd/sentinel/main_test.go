package main

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sentinel/internal/sentinel"
)

func TestRunMonitorFlagRejectsWrongFieldCount(t *testing.T) {
	err := runMonitorFlag(nil, "mymaster,127.0.0.1,6379")
	require.ErrorContains(t, err, "name,host,port,quorum")
}

func TestRunMonitorFlagRejectsNonNumericPort(t *testing.T) {
	err := runMonitorFlag(nil, "mymaster,127.0.0.1,notaport,2")
	require.ErrorContains(t, err, "invalid port")
}

func TestRunMonitorFlagRejectsNonNumericQuorum(t *testing.T) {
	err := runMonitorFlag(nil, "mymaster,127.0.0.1,6379,notaquorum")
	require.ErrorContains(t, err, "invalid quorum")
}

func TestRunMonitorFlagDispatchesAWellFormedMonitorRequest(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	core := sentinel.NewSentinel(sentinel.Config{Port: 26379}, "", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let the actor loop reach its select before dispatching

	err := runMonitorFlag(core, "mymaster,127.0.0.1,6379,2")
	require.NoError(t, err)
}
