package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nodeplane/ribengine/config"
)

func TestBuildLoggerReturnsUsableLogger(t *testing.T) {
	log := buildLogger(&config.NodeConfig{Id: "node1"}, false)
	assert.NotNil(t, log)
}

func TestBuildLoggerHonorsVerboseFlag(t *testing.T) {
	log := buildLogger(&config.NodeConfig{Id: "node1"}, true)
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
}
