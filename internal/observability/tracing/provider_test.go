package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestSafeAttributesDropsTenantData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/usage"),
		attribute.String("tenant_id", "t-1"),
		attribute.String("pipeline.stage", "bill"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
	assert.Equal(t, attribute.Key("pipeline.stage"), attrs[1].Key)
}

func TestSafeErrorHidesMessage(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	err := SafeError(errors.New("tenant 42 subscription sub-1 missing"))
	assert.Equal(t, "*errors.errorString", err.Error())
}

func TestDisabledProviderIsNoop(t *testing.T) {
	provider, err := NewProvider(nil, Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	_, span := provider.Tracer("test").Start(t.Context(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}
