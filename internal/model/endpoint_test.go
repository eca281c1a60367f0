package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringListScansJSONColumn(t *testing.T) {
	var l StringList
	require.NoError(t, l.Scan([]byte(`["usage.threshold.80","usage.quota.exceeded"]`)))
	assert.True(t, l.Contains("usage.threshold.80"))
	assert.False(t, l.Contains("usage.threshold.100"))

	var fromString StringList
	require.NoError(t, fromString.Scan(`["a"]`))
	assert.Equal(t, StringList{"a"}, fromString)

	var fromNull StringList
	require.NoError(t, fromNull.Scan(nil))
	assert.Nil(t, fromNull)
}

func TestStringListValueNeverNull(t *testing.T) {
	var l StringList
	v, err := l.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)
}

func TestHeaderMapRoundTrip(t *testing.T) {
	m := HeaderMap{"X-Env": "staging"}
	v, err := m.Value()
	require.NoError(t, err)

	var got HeaderMap
	require.NoError(t, got.Scan(v))
	assert.Equal(t, m, got)

	var bad HeaderMap
	assert.Error(t, bad.Scan(42))
}

func TestEndpointUpdateEmpty(t *testing.T) {
	assert.True(t, EndpointUpdate{}.Empty())

	enabled := false
	assert.False(t, EndpointUpdate{Enabled: &enabled}.Empty())
	assert.False(t, EndpointUpdate{SubscribedEvents: StringList{}}.Empty())
}

func TestEndpointTimeoutFallback(t *testing.T) {
	e := EndpointConfig{TimeoutMs: 250}
	assert.Equal(t, 250*time.Millisecond, e.Timeout(0))

	e.TimeoutMs = 0
	assert.Equal(t, 5*time.Second, e.Timeout(5*time.Second))
}
