package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/travelbingo/internal/batch"
)

func drain(events <-chan batch.Event) (batch.Summary, []batch.Event) {
	var all []batch.Event
	summary := batch.Drain(events, func(ev batch.Event) { all = append(all, ev) })
	return summary, all
}

func TestFixMissingImages(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	ctx := context.Background()

	stream, err := env.svc.FixMissingImages(ctx, "amsterdam")
	require.NoError(t, err)
	summary, events := drain(stream)

	assert.Equal(t, batch.Summary{Total: 3, Succeeded: 3}, summary)
	assert.Equal(t, 3, env.images.count())

	var keys []string
	for _, ev := range events {
		if ev.Kind == batch.EventProgress {
			keys = append(keys, ev.Key)
		}
	}
	assert.Equal(t, []string{"amsterdam-3", "amsterdam-7", "amsterdam-20"}, keys)

	// The refresh after the run makes the new images visible.
	city, err := env.svc.GetCity(ctx, "amsterdam")
	require.NoError(t, err)
	for _, item := range city.Items {
		assert.False(t, item.NeedsImage(), item.ID)
	}

	n, err := env.usage.Count(ctx, "server-admin", KindImage)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// Nothing left to fix.
	stream, err = env.svc.FixMissingImages(ctx, "amsterdam")
	require.NoError(t, err)
	summary, _ = drain(stream)
	assert.Equal(t, batch.Summary{}, summary)
	assert.Equal(t, 3, env.images.count())
}

func TestFixMissingImagesRetriesThenCountsFailure(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	env.images.fail["Activity 7"] = errors.New("timeout")

	events, err := env.svc.FixMissingImages(context.Background(), "amsterdam")
	require.NoError(t, err)
	summary, _ := drain(events)

	assert.Equal(t, batch.Summary{Total: 3, Succeeded: 2, Failed: 1}, summary)
	// Two good items plus three attempts for the failing one.
	assert.Equal(t, 5, env.images.count())
}

func TestGenerateAllImages(t *testing.T) {
	env := newTestEnv(t, "amsterdam")

	events, err := env.svc.GenerateAllImages(context.Background(), "amsterdam")
	require.NoError(t, err)
	summary, _ := drain(events)

	assert.Equal(t, batch.Summary{Total: 24, Succeeded: 24}, summary)
	assert.Equal(t, 24, env.images.count(), "center excluded, resolved images regenerated")

	city, err := env.svc.GetCity(context.Background(), "amsterdam")
	require.NoError(t, err)
	assert.Equal(t, "/images/amsterdam/12.jpg", city.Item("amsterdam-12").Image)
	assert.Contains(t, city.Item("amsterdam-0").Image, "https://img.test/")
}

func TestGenerateAllDescriptions(t *testing.T) {
	env := newTestEnv(t, "amsterdam")

	events, err := env.svc.GenerateAllDescriptions(context.Background(), "amsterdam")
	require.NoError(t, err)
	summary, _ := drain(events)

	// Odd-indexed items lack a description.
	assert.Equal(t, batch.Summary{Total: 12, Succeeded: 12}, summary)

	city, err := env.svc.GetCity(context.Background(), "amsterdam")
	require.NoError(t, err)
	for _, item := range city.Items {
		assert.False(t, item.NeedsDescription(), item.ID)
	}
}

func TestAdminFlowsUnknownCity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.FixMissingImages(ctx, "atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.svc.GenerateAllImages(ctx, "atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.svc.GenerateAllDescriptions(ctx, "atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}
