package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, done := p.TrackRun(context.Background(), "pm.backlog_sync")
	assert.NotNil(t, ctx)
	done(errors.New("boom"))
	done2 := func() {
		_, finish := p.TrackRun(ctx, "pm.optimize_all")
		finish(nil)
	}
	assert.NotPanics(t, done2)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNilConfigUsesDefaults(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "roadmapd", p.config.ServiceName)
	assert.NotNil(t, p.Tracer())
}
