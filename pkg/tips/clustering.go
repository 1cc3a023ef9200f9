package tips

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/kaizen-ai/kaizen/pkg/embedders"
	"github.com/kaizen-ai/kaizen/pkg/schema"
)

// MaxClusterEntities bounds how many guidelines a single clustering or
// consolidation run will consider. The pairwise similarity pass is quadratic.
const MaxClusterEntities = 10000

// ClusterEntities groups entities whose task descriptions are semantically
// close. Entities without a non-empty task_description metadata value are
// ignored. Two entities land in the same cluster when the cosine similarity
// of their task-description embeddings meets the threshold (inclusive), with
// transitive closure via union-find. Singleton clusters are dropped.
//
// Cluster order and within-cluster order follow the input order.
func ClusterEntities(ctx context.Context, embedder embedders.Provider, entities []*schema.RecordedEntity, threshold float64) ([][]*schema.RecordedEntity, error) {
	if len(entities) > MaxClusterEntities {
		slog.Warn("truncating clustering input",
			"entities", len(entities), "limit", MaxClusterEntities)
		entities = entities[:MaxClusterEntities]
	}

	var candidates []*schema.RecordedEntity
	var descriptions []string
	for _, e := range entities {
		desc, _ := e.Metadata[schema.MetadataTaskDescription].(string)
		if desc == "" {
			continue
		}
		candidates = append(candidates, e)
		descriptions = append(descriptions, desc)
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	vectors := make([][]float32, len(descriptions))
	for i, desc := range descriptions {
		vec, err := embedder.Embed(ctx, desc)
		if err != nil {
			return nil, fmt.Errorf("failed to embed task description: %w", err)
		}
		vectors[i] = vec
	}

	uf := newUnionFind(len(candidates))
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			if cosineSimilarity(vectors[i], vectors[j]) >= threshold {
				uf.union(i, j)
			}
		}
	}

	// Group by root, keeping first-seen order for both clusters and members.
	groups := make(map[int][]*schema.RecordedEntity)
	var roots []int
	for i, e := range candidates {
		root := uf.find(i)
		if _, seen := groups[root]; !seen {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], e)
	}

	var clusters [][]*schema.RecordedEntity
	for _, root := range roots {
		if cluster := groups[root]; len(cluster) > 1 {
			clusters = append(clusters, cluster)
		}
	}
	return clusters, nil
}

// cosineSimilarity assumes nothing about vector norms.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// unionFind with path compression and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}
