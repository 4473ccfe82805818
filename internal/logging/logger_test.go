package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDomainEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core).Named("whitelist")

	l.LogMutation("add", "203.0.113.5", "console")
	l.LogMutation("clear", "", "127.0.0.1:5000")
	l.LogPeerRejected("accept", "192.0.2.9")
	l.LogStoreEvent("save", "whitelist.cfg", errors.New("disk full"))

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("logged %d entries, want 4", len(entries))
	}

	add := entries[0].ContextMap()
	if add["op"] != "add" || add["address"] != "203.0.113.5" || add["by"] != "console" {
		t.Fatalf("add fields = %v", add)
	}
	if _, ok := entries[1].ContextMap()["address"]; ok {
		t.Fatal("clear logged an address")
	}
	if entries[2].Level != zapcore.DebugLevel || entries[2].ContextMap()["stage"] != "accept" {
		t.Fatalf("rejection entry = %+v", entries[2])
	}
	if entries[3].Level != zapcore.ErrorLevel || entries[3].ContextMap()["error"] != "disk full" {
		t.Fatalf("store failure entry = %+v", entries[3])
	}
	if entries[0].LoggerName != "whitelist" {
		t.Fatalf("logger name = %q", entries[0].LoggerName)
	}
}

func TestNewLoggerFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "DEBUG")
	if !NewLoggerFromEnv().logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug level not enabled by " + EnvLevel)
	}
	t.Setenv(EnvLevel, "")
	t.Setenv("LOG_LEVEL", "")
	if NewLoggerFromEnv().logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug enabled without a level set")
	}
}
