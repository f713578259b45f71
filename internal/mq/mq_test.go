package mq

import (
	"context"
	"testing"

	"github.com/signlearn/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_NoBackend(t *testing.T) {
	q, err := Open(context.Background(), config.MQConfig{})
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: "nats"})
	assert.ErrorContains(t, err, "unknown mq backend")
}

func TestOpen_KafkaNeedsBrokers(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: BackendKafka})
	assert.Error(t, err)
}
