package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellhq/quell/internal/core/domain"
)

func TestEngine_Sweep_RemovesExpiredGroups(t *testing.T) {
	config := DefaultConfig()
	config.MaxGroupAge = time.Hour
	engine, err := NewEngine(config, Dependencies{}, createTestLogger())
	require.NoError(t, err)

	ref, err := engine.Process(context.Background(), createTestAlert("a1", time.Now().UTC()))
	require.NoError(t, err)

	// Within the age limit nothing is removed, regardless of status.
	engine.sweep(time.Now().UTC().Add(30 * time.Minute))
	assert.NotNil(t, engine.GetGroup(ref.GroupID))

	// Past the maximum age the group goes, even while still open.
	engine.sweep(time.Now().UTC().Add(2 * time.Hour))
	assert.Nil(t, engine.GetGroup(ref.GroupID))
	assert.Nil(t, engine.GetGroupForAlert("a1"), "ownership must end with the group")
}

func TestEngine_Sweep_RemovesRetiredResolvedGroups(t *testing.T) {
	config := DefaultConfig()
	config.MaxGroupAge = 24 * time.Hour
	config.ResolvedRetention = 30 * time.Minute
	engine, err := NewEngine(config, Dependencies{}, createTestLogger())
	require.NoError(t, err)

	ref, err := engine.Process(context.Background(), createTestAlert("a1", time.Now().UTC()))
	require.NoError(t, err)
	require.True(t, engine.ResolveGroup(ref.GroupID))

	// Resolved but still inside the retention period.
	engine.sweep(time.Now().UTC().Add(10 * time.Minute))
	group := engine.GetGroup(ref.GroupID)
	require.NotNil(t, group)
	assert.Equal(t, domain.GroupStatusResolved, group.Status)

	// Past the retention period it is garbage collected.
	engine.sweep(time.Now().UTC().Add(time.Hour))
	assert.Nil(t, engine.GetGroup(ref.GroupID))
}

func TestEngine_Sweep_KeepsOpenGroupsWithinAge(t *testing.T) {
	engine := createTestEngine(t)

	ref1, err := engine.Process(context.Background(), createTestAlert("a1", time.Now().UTC()))
	require.NoError(t, err)
	ref2, err := engine.Process(context.Background(), createTestAlert("a2", time.Now().UTC()))
	require.NoError(t, err)

	engine.sweep(time.Now().UTC())

	assert.NotNil(t, engine.GetGroup(ref1.GroupID))
	assert.NotNil(t, engine.GetGroup(ref2.GroupID))
	assert.Equal(t, 2, engine.GetStats().ActiveGroups)
}

func TestEngine_SweepWorker_StopsCleanly(t *testing.T) {
	config := DefaultConfig()
	config.SweepInterval = 10 * time.Millisecond
	engine, err := NewEngine(config, Dependencies{}, createTestLogger())
	require.NoError(t, err)

	require.NoError(t, engine.Start())
	time.Sleep(30 * time.Millisecond)
	engine.Stop()
}
