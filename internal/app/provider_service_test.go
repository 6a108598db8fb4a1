package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinyagent/internal/model"
	"tinyagent/internal/repository"
)

func TestProviderRegistry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	global := &model.AIProvider{Name: "shared", BaseURL: "http://shared", IsEnabled: true}
	require.NoError(t, repository.NewProviderRepository(env.db).CreateProvider(ctx, global))

	own, err := env.providers.CreateProvider(ctx, CreateProviderInput{
		UserID:  1,
		Name:    "local",
		BaseURL: "http://localhost:5800/fakeLLM/v1/",
		APIKey:  "sk-test",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5800/fakeLLM/v1", own.BaseURL)
	assert.True(t, own.IsEnabled)

	_, err = env.providers.CreateProvider(ctx, CreateProviderInput{UserID: 2, Name: "other", BaseURL: "http://other"})
	require.NoError(t, err)

	list, err := env.providers.ListProviders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "shared", list[0].Name)
	assert.Equal(t, "local", list[1].Name)

	m, err := env.providers.CreateModel(ctx, CreateModelInput{UserID: 1, ProviderID: own.ID, ModelID: "mywen:4b"})
	require.NoError(t, err)
	assert.Equal(t, "mywen:4b", m.Name)
	assert.Equal(t, 4096, m.MaxTokens)
	assert.InDelta(t, 0.7, m.Temperature, 1e-9)
	assert.True(t, m.IsEnabled)

	zero := 0.0
	cold, err := env.providers.CreateModel(ctx, CreateModelInput{UserID: 1, ProviderID: global.ID, ModelID: "cold", Temperature: &zero})
	require.NoError(t, err)
	assert.Zero(t, cold.Temperature)

	models, err := env.providers.ListModels(ctx, 1, own.ID)
	require.NoError(t, err)
	require.Len(t, models, 1)

	// user 2 cannot see user 1's provider
	_, err = env.providers.ListModels(ctx, 2, own.ID)
	assert.ErrorIs(t, err, ErrProviderNotFound)
	_, err = env.providers.CreateModel(ctx, CreateModelInput{UserID: 2, ProviderID: own.ID, ModelID: "x"})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestProviderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.providers.CreateProvider(ctx, CreateProviderInput{UserID: 1, Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	hot := 3.0
	_, err = env.providers.CreateModel(ctx, CreateModelInput{UserID: 1, ProviderID: 1, ModelID: "m", Temperature: &hot})
	assert.Error(t, err)
}
