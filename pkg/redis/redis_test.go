package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Key(t *testing.T) {
	assert.Equal(t, "im:client:state:default", Key("im:client:", "state", "default"))
	assert.Equal(t, "im:client:", Key("im:client:"))
}

func Test_HealthCheckNil(t *testing.T) {
	assert.Error(t, HealthCheck(context.Background(), nil))
}
