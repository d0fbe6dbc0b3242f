package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/longscribe/longscribe/pkg/blob"
	"github.com/longscribe/longscribe/pkg/types"
)

// analyze computes one centroid embedding per global speaker and stores it
// in the voiceprint registry. Everything here is best-effort: a run with a
// finished transcript never fails over analysis.
func (p *Pipeline) analyze(ctx context.Context, runID string, env ChunkResultsEnvelope, mappingKey string, logger *slog.Logger) {
	if p.voiceprints == nil || mappingKey == "" {
		return
	}

	var mapping map[string]string
	if err := blob.GetJSON(ctx, p.store, p.bucket, mappingKey, &mapping); err != nil {
		logger.Warn("voiceprint analysis skipped", "key", mappingKey, "error", err)
		return
	}
	if len(mapping) == 0 {
		return
	}

	manifests, err := p.openChunkResults(ctx, env)
	if err != nil {
		logger.Warn("voiceprint analysis skipped", "error", err)
		return
	}

	type accum struct {
		sum      []float64
		duration float64
	}
	centroids := make(map[string]*accum)

	for _, man := range manifests {
		var cd types.ChunkDiarization
		if err := blob.GetJSON(ctx, p.store, env.Bucket, man.ResultKey, &cd); err != nil {
			logger.Warn("voiceprint analysis skipped a chunk", "key", man.ResultKey, "error", err)
			continue
		}
		for local, profile := range cd.Speakers {
			if len(profile.Embedding) == 0 || profile.TotalDuration <= 0 {
				continue
			}
			global, ok := mapping[fmt.Sprintf("chunk_%d_%s", cd.ChunkIndex, local)]
			if !ok {
				continue
			}
			acc := centroids[global]
			if acc == nil {
				acc = &accum{sum: make([]float64, len(profile.Embedding))}
				centroids[global] = acc
			}
			if len(acc.sum) != len(profile.Embedding) {
				logger.Warn("voiceprint dimension mismatch", "speaker", global)
				continue
			}
			for i, v := range profile.Embedding {
				acc.sum[i] += float64(v) * profile.TotalDuration
			}
			acc.duration += profile.TotalDuration
		}
	}

	for speaker, acc := range centroids {
		centroid := make([]float32, len(acc.sum))
		for i, v := range acc.sum {
			centroid[i] = float32(v / acc.duration)
		}
		if err := p.voiceprints.Store(ctx, runID, speaker, centroid, acc.duration); err != nil {
			logger.Warn("voiceprint store failed", "speaker", speaker, "error", err)
			continue
		}
	}
	logger.Debug("voiceprints stored", "speakers", len(centroids))
}
