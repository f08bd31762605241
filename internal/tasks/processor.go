package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"imagedrop/internal/ids"
	"imagedrop/internal/queue"
	"imagedrop/internal/storage"
)

// ImageLookup reports whether a metadata record exists.
type ImageLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Processor removes blobs that no metadata record points at.
type Processor struct {
	images ImageLookup
	blobs  storage.BlobStore
	grace  time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

type SweepResult struct {
	Scanned        int
	Young          int
	Skipped        int
	Deleted        int
	Failed         int
	ReclaimedBytes int64
	StagingRemoved int
}

func NewProcessor(images ImageLookup, blobs storage.BlobStore, grace time.Duration, logger zerolog.Logger) *Processor {
	return &Processor{
		images: images,
		blobs:  blobs,
		grace:  grace,
		logger: logger,
		now:    time.Now,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	task, err := queue.DecodeTask(msg.Values)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch task.Type {
	case queue.TaskOrphan:
		return p.handleOrphan(ctx, task)
	case queue.TaskSweep:
		_, err := p.Sweep(ctx)
		return err
	default:
		p.logger.Warn().Str("type", task.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handleOrphan(ctx context.Context, task queue.Task) error {
	id, _, ok := storage.SplitKey(task.Location)
	if !ok || id != task.ImageID {
		p.logger.Warn().
			Str("image_id", task.ImageID).
			Str("location", task.Location).
			Msg("orphan task location does not match image id")
		return nil
	}

	exists, err := p.images.Exists(ctx, task.ImageID)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", task.ImageID, err)
	}
	if exists {
		p.logger.Info().Str("image_id", task.ImageID).Msg("reported orphan has a record, keeping blob")
		return nil
	}

	if err := p.blobs.Delete(ctx, task.Location); err != nil {
		return fmt.Errorf("delete orphan %s: %w", task.Location, err)
	}
	p.logger.Info().
		Str("image_id", task.ImageID).
		Str("location", task.Location).
		Msg("orphaned blob removed")
	return nil
}

// Sweep walks the blob store and deletes unreferenced blobs older than the
// grace period. Younger blobs may belong to uploads still writing metadata.
// Stale staging files are removed with the same cutoff.
func (p *Processor) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := p.now().Add(-p.grace)

	err := p.blobs.Walk(ctx, func(info storage.ObjectInfo) error {
		result.Scanned++
		if info.LastModified.After(cutoff) {
			result.Young++
			return nil
		}

		id, _, ok := storage.SplitKey(info.Key)
		if canonical, err := ids.Parse(id); !ok || err != nil || canonical != id {
			result.Skipped++
			p.logger.Warn().Str("location", info.Key).Msg("sweep skipped unrecognised blob")
			return nil
		}

		exists, err := p.images.Exists(ctx, id)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", id, err)
		}
		if exists {
			return nil
		}

		if err := p.blobs.Delete(ctx, info.Key); err != nil {
			result.Failed++
			p.logger.Error().Err(err).Str("location", info.Key).Msg("sweep delete failed")
			return nil
		}
		result.Deleted++
		result.ReclaimedBytes += info.SizeBytes
		return nil
	})

	if reaper, ok := p.blobs.(storage.StagingReaper); ok && err == nil {
		result.StagingRemoved, err = reaper.ReapStaging(ctx, cutoff)
		if err != nil {
			err = fmt.Errorf("reap staging: %w", err)
		}
	}

	event := p.logger.Info()
	if err != nil {
		event = p.logger.Error().Err(err)
	}
	event.
		Int("scanned", result.Scanned).
		Int("young", result.Young).
		Int("skipped", result.Skipped).
		Int("deleted", result.Deleted).
		Int("failed", result.Failed).
		Int64("reclaimed_bytes", result.ReclaimedBytes).
		Int("staging_removed", result.StagingRemoved).
		Msg("orphan sweep finished")

	return result, err
}
