package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

// MockHierarchyStore is a mock implementation of HierarchyStore
type MockHierarchyStore struct {
	mock.Mock
}

func (m *MockHierarchyStore) EntitiesUnder(ctx context.Context, category domain.ConceptCategory, cursor string, limit int) ([]domain.OntologyEntity, string, error) {
	args := m.Called(ctx, category, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]domain.OntologyEntity), args.String(1), args.Error(2)
}

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockCacheRepository is a mock implementation of CacheRepository
type MockCacheRepository struct {
	mock.Mock
}

func (m *MockCacheRepository) UpsertEntity(ctx context.Context, e *domain.OntologyEntity, syncedAt time.Time) error {
	args := m.Called(ctx, e, syncedAt)
	return args.Error(0)
}

func (m *MockCacheRepository) GetByNormalizedLabel(ctx context.Context, category domain.ConceptCategory, label string) (*domain.CachedEntity, error) {
	args := m.Called(ctx, category, label)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CachedEntity), args.Error(1)
}

func (m *MockCacheRepository) SearchByEmbedding(ctx context.Context, category domain.ConceptCategory, embedding []float32, limit int) ([]ScoredEntity, error) {
	args := m.Called(ctx, category, embedding, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ScoredEntity), args.Error(1)
}

func (m *MockCacheRepository) ListWithoutEmbedding(ctx context.Context, category domain.ConceptCategory, limit int) ([]domain.CachedEntity, error) {
	args := m.Called(ctx, category, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CachedEntity), args.Error(1)
}

func (m *MockCacheRepository) UpdateEmbedding(ctx context.Context, uri string, embedding []float32) error {
	args := m.Called(ctx, uri, embedding)
	return args.Error(0)
}

func cachedEntity(uri, label string) *domain.CachedEntity {
	return &domain.CachedEntity{
		OntologyEntity: domain.OntologyEntity{
			URI:      uri,
			Label:    label,
			Kind:     domain.EntityKindClass,
			Category: domain.CategoryPrinciple,
		},
		SyncedAt: time.Now(),
	}
}

func matchCandidate(label string) domain.ConceptCandidate {
	return domain.ConceptCandidate{
		ID:          "cand-1",
		Span:        domain.TextSpan{DocumentID: "doc-1", Start: 0, End: 10},
		Category:    domain.CategoryPrinciple,
		RawLabel:    label,
		Confidence:  0.8,
		PassNumber:  domain.PassNormative,
		SplitMethod: domain.SplitMethodNone,
	}
}

func newTestMatcher(t *testing.T, cache *MockCacheRepository, embed *MockEmbeddingClient) *Matcher {
	t.Helper()
	m, err := NewMatcher(new(MockHierarchyStore), embed, cache, Config{Default: DefaultThresholds()})
	require.NoError(t, err)
	return m
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())
	require.Error(t, Thresholds{High: 0.5, Low: 0.6, TopK: 5}.Validate())
	require.Error(t, Thresholds{High: 1.2, Low: 0.5, TopK: 5}.Validate())
	require.Error(t, Thresholds{High: 0.9, Low: -0.1, TopK: 5}.Validate())
	require.Error(t, Thresholds{High: 0.9, Low: 0.5, TopK: 0}.Validate())
}

func TestConfig_ThresholdsFor(t *testing.T) {
	cfg := Config{
		Default: DefaultThresholds(),
		PerCategory: map[domain.ConceptCategory]Thresholds{
			domain.CategoryRole: {High: 0.9, Low: 0.6, TopK: 3},
		},
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.9, cfg.ThresholdsFor(domain.CategoryRole).High)
	assert.Equal(t, 0.85, cfg.ThresholdsFor(domain.CategoryPrinciple).High)
}

func TestParseOverrides(t *testing.T) {
	t.Run("parses high;low;topk per category", func(t *testing.T) {
		overrides, err := ParseOverrides(map[string]string{
			"role":  "0.9;0.6;4",
			"event": "0.8; 0.5; 5",
		})
		require.NoError(t, err)
		assert.Equal(t, Thresholds{High: 0.9, Low: 0.6, TopK: 4}, overrides[domain.CategoryRole])
		assert.Equal(t, Thresholds{High: 0.8, Low: 0.5, TopK: 5}, overrides[domain.CategoryEvent])
	})

	t.Run("empty input yields no overrides", func(t *testing.T) {
		overrides, err := ParseOverrides(nil)
		require.NoError(t, err)
		assert.Nil(t, overrides)
	})

	t.Run("unknown category is rejected", func(t *testing.T) {
		_, err := ParseOverrides(map[string]string{"virtue": "0.9;0.6;4"})
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("malformed value strings are rejected", func(t *testing.T) {
		for _, spec := range []string{"0.9;0.6", "0.9;0.6;4;7", "high;0.6;4", "0.9;low;4", "0.9;0.6;many"} {
			_, err := ParseOverrides(map[string]string{"role": spec})
			require.Error(t, err, "spec %q", spec)
			assert.True(t, domain.IsValidation(err))
		}
	})

	t.Run("parsed overrides feed a valid matcher config", func(t *testing.T) {
		overrides, err := ParseOverrides(map[string]string{"role": "0.9;0.6;4"})
		require.NoError(t, err)
		cfg := Config{Default: DefaultThresholds(), PerCategory: overrides}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 0.9, cfg.ThresholdsFor(domain.CategoryRole).High)
	})
}

func TestNewMatcher_RejectsInvalidConfig(t *testing.T) {
	_, err := NewMatcher(new(MockHierarchyStore), new(MockEmbeddingClient), new(MockCacheRepository),
		Config{Default: Thresholds{High: 0.2, Low: 0.8, TopK: 5}})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = NewMatcher(new(MockHierarchyStore), new(MockEmbeddingClient), new(MockCacheRepository),
		Config{Default: DefaultThresholds(), PerCategory: map[domain.ConceptCategory]Thresholds{
			"virtue": DefaultThresholds(),
		}})
	require.Error(t, err)
}

func TestMatcher_Match(t *testing.T) {
	ctx := context.Background()

	t.Run("exact normalized label scores 1.0", func(t *testing.T) {
		cache := new(MockCacheRepository)
		cache.On("GetByNormalizedLabel", mock.Anything, domain.CategoryPrinciple, "public welfare").
			Return(cachedEntity("uri-1", "Public Welfare"), nil)

		embed := new(MockEmbeddingClient)
		matcher := newTestMatcher(t, cache, embed)

		result, err := matcher.Match(ctx, matchCandidate("  Public   WELFARE "))
		require.NoError(t, err)
		assert.Equal(t, ClassificationExisting, result.Classification)
		assert.Equal(t, "uri-1", result.MatchedURI)
		assert.Equal(t, 1.0, result.Score)
		embed.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
	})

	t.Run("high similarity classifies existing", func(t *testing.T) {
		cache := new(MockCacheRepository)
		cache.On("GetByNormalizedLabel", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domain.ErrEntityNotFound)
		cache.On("SearchByEmbedding", mock.Anything, domain.CategoryPrinciple, mock.Anything, 5).
			Return([]ScoredEntity{
				{Entity: cachedEntity("uri-1", "Public Welfare").OntologyEntity, Score: 0.92},
				{Entity: cachedEntity("uri-2", "Public Health").OntologyEntity, Score: 0.70},
			}, nil)

		embed := new(MockEmbeddingClient)
		embed.On("GenerateEmbedding", mock.Anything, "welfare of the public").
			Return([]float32{0.1, 0.2}, nil)

		matcher := newTestMatcher(t, cache, embed)
		result, err := matcher.Match(ctx, matchCandidate("welfare of the public"))
		require.NoError(t, err)
		assert.Equal(t, ClassificationExisting, result.Classification)
		assert.Equal(t, "uri-1", result.MatchedURI)
		assert.InDelta(t, 0.92, result.Score, 1e-9)
	})

	t.Run("mid similarity classifies ambiguous with alternatives", func(t *testing.T) {
		cache := new(MockCacheRepository)
		cache.On("GetByNormalizedLabel", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domain.ErrEntityNotFound)
		cache.On("SearchByEmbedding", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]ScoredEntity{
				{Entity: cachedEntity("uri-1", "Public Welfare").OntologyEntity, Score: 0.70},
				{Entity: cachedEntity("uri-2", "Public Health").OntologyEntity, Score: 0.60},
			}, nil)

		embed := new(MockEmbeddingClient)
		embed.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)

		matcher := newTestMatcher(t, cache, embed)
		result, err := matcher.Match(ctx, matchCandidate("community wellbeing"))
		require.NoError(t, err)
		assert.Equal(t, ClassificationAmbiguous, result.Classification)
		assert.Empty(t, result.MatchedURI)
		require.Len(t, result.TopCandidates, 2)
	})

	t.Run("low similarity classifies new", func(t *testing.T) {
		cache := new(MockCacheRepository)
		cache.On("GetByNormalizedLabel", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domain.ErrEntityNotFound)
		cache.On("SearchByEmbedding", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]ScoredEntity{
				{Entity: cachedEntity("uri-1", "Public Welfare").OntologyEntity, Score: 0.30},
			}, nil)

		embed := new(MockEmbeddingClient)
		embed.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)

		matcher := newTestMatcher(t, cache, embed)
		result, err := matcher.Match(ctx, matchCandidate("entirely novel concept"))
		require.NoError(t, err)
		assert.Equal(t, ClassificationNew, result.Classification)
	})

	t.Run("empty cache classifies new", func(t *testing.T) {
		cache := new(MockCacheRepository)
		cache.On("GetByNormalizedLabel", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domain.ErrEntityNotFound)
		cache.On("SearchByEmbedding", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]ScoredEntity{}, nil)

		embed := new(MockEmbeddingClient)
		embed.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)

		matcher := newTestMatcher(t, cache, embed)
		result, err := matcher.Match(ctx, matchCandidate("anything"))
		require.NoError(t, err)
		assert.Equal(t, ClassificationNew, result.Classification)
	})

	t.Run("equal scores break ties by URI", func(t *testing.T) {
		cache := new(MockCacheRepository)
		cache.On("GetByNormalizedLabel", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domain.ErrEntityNotFound)
		// Deliberately out of URI order to exercise the re-sort.
		cache.On("SearchByEmbedding", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]ScoredEntity{
				{Entity: cachedEntity("uri-b", "B").OntologyEntity, Score: 0.9},
				{Entity: cachedEntity("uri-a", "A").OntologyEntity, Score: 0.9},
			}, nil)

		embed := new(MockEmbeddingClient)
		embed.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)

		matcher := newTestMatcher(t, cache, embed)
		result, err := matcher.Match(ctx, matchCandidate("tied"))
		require.NoError(t, err)
		assert.Equal(t, "uri-a", result.MatchedURI)
	})

	t.Run("embedding failure is transient", func(t *testing.T) {
		cache := new(MockCacheRepository)
		cache.On("GetByNormalizedLabel", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domain.ErrEntityNotFound)

		embed := new(MockEmbeddingClient)
		embed.On("GenerateEmbedding", mock.Anything, mock.Anything).
			Return(nil, errors.New("rate limited"))

		matcher := newTestMatcher(t, cache, embed)
		_, err := matcher.Match(ctx, matchCandidate("anything"))
		require.Error(t, err)
		assert.True(t, domain.IsTransient(err))
	})

	t.Run("invalid category and empty label are rejected", func(t *testing.T) {
		matcher := newTestMatcher(t, new(MockCacheRepository), new(MockEmbeddingClient))

		cand := matchCandidate("x")
		cand.Category = "virtue"
		_, err := matcher.Match(ctx, cand)
		assert.True(t, domain.IsValidation(err))

		cache := new(MockCacheRepository)
		matcher = newTestMatcher(t, cache, new(MockEmbeddingClient))
		_, err = matcher.Match(ctx, matchCandidate("   "))
		assert.True(t, domain.IsValidation(err))
	})
}

func TestMatcher_SyncHierarchy(t *testing.T) {
	ctx := context.Background()

	t.Run("pages through the hierarchy and embeds missing definitions", func(t *testing.T) {
		store := new(MockHierarchyStore)
		store.On("EntitiesUnder", mock.Anything, domain.CategoryPrinciple, "", hierarchyPageSize).
			Return([]domain.OntologyEntity{
				{URI: "uri-1", Label: "Public Welfare", Category: domain.CategoryPrinciple},
				{URI: "uri-2", Label: "Honesty", Category: domain.CategoryPrinciple},
			}, "page-2", nil)
		store.On("EntitiesUnder", mock.Anything, domain.CategoryPrinciple, "page-2", hierarchyPageSize).
			Return([]domain.OntologyEntity{
				{URI: "uri-3", Label: "Candor", Category: domain.CategoryPrinciple},
			}, "", nil)

		cache := new(MockCacheRepository)
		cache.On("UpsertEntity", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(3)
		cache.On("ListWithoutEmbedding", mock.Anything, domain.CategoryPrinciple, embedBatchLimit).
			Return([]domain.CachedEntity{*cachedEntity("uri-3", "Candor")}, nil).Once()

		embed := new(MockEmbeddingClient)
		embed.On("GenerateEmbedding", mock.Anything, "Candor").Return([]float32{0.5}, nil)
		cache.On("UpdateEmbedding", mock.Anything, "uri-3", []float32{0.5}).Return(nil)

		matcher, err := NewMatcher(store, embed, cache, Config{Default: DefaultThresholds()})
		require.NoError(t, err)
		require.NoError(t, matcher.SyncHierarchy(ctx, domain.CategoryPrinciple))
		store.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("store failure is transient", func(t *testing.T) {
		store := new(MockHierarchyStore)
		store.On("EntitiesUnder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, "", errors.New("upstream down"))

		matcher, err := NewMatcher(store, new(MockEmbeddingClient), new(MockCacheRepository),
			Config{Default: DefaultThresholds()})
		require.NoError(t, err)

		err = matcher.SyncHierarchy(ctx, domain.CategoryPrinciple)
		require.Error(t, err)
		assert.True(t, domain.IsTransient(err))
	})

	t.Run("unknown category", func(t *testing.T) {
		matcher := newTestMatcher(t, new(MockCacheRepository), new(MockEmbeddingClient))
		err := matcher.SyncHierarchy(ctx, "virtue")
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "public welfare", NormalizeLabel("  Public   WELFARE "))
	assert.Equal(t, "conflict of interest", NormalizeLabel("Conflict of Interest"))
	assert.Empty(t, NormalizeLabel("   "))
}
