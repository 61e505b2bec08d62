package event

import (
	"testing"

	"referral-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerURI_EscapesCredentials(t *testing.T) {
	uri, err := brokerURI(config.RabbitMQConfig{Username: "referral", Password: "p@ss/word", Host: "mq", Port: "5673"})
	require.NoError(t, err)
	assert.NotContains(t, uri, "p@ss/word")
	assert.Contains(t, uri, "@mq:5673")

	_, err = brokerURI(config.RabbitMQConfig{Host: "mq", Port: "amqp"})
	assert.ErrorContains(t, err, "invalid rabbitmq port")
}

func TestRabbitMQConnection_NilIsUnhealthy(t *testing.T) {
	var conn *RabbitMQConnection
	assert.False(t, conn.Healthy())
}
