package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"imagedrop/internal/ids"
	"imagedrop/internal/media/sniffer"
	"imagedrop/internal/models"
	"imagedrop/internal/repository"
	"imagedrop/internal/storage"
)

const (
	orphanReportTimeout = 5 * time.Second

	// MaxOwnerIDLength bounds the opaque owner identifier.
	MaxOwnerIDLength = 128
)

// ImageRepository is the metadata store used by ImageService.
type ImageRepository interface {
	Create(ctx context.Context, image models.Image) error
	GetByID(ctx context.Context, id string) (models.Image, error)
	Delete(ctx context.Context, id string) (models.Image, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Image, error)
}

// OrphanReporter hands blobs that lost their metadata write to the reconciler.
type OrphanReporter interface {
	ReportOrphan(ctx context.Context, imageID, location string) error
}

type UploadInput struct {
	OwnerID string
	Content io.ReaderAt
	Size    int64
}

// Content is an open image. The caller must close Body.
type Content struct {
	Image     models.Image
	Body      io.ReadCloser
	SizeBytes int64
}

type ImageService struct {
	images  ImageRepository
	blobs   storage.BlobStore
	orphans OrphanReporter
	log     zerolog.Logger
	now     func() time.Time
}

// NewImageService wires the upload, retrieval and deletion flows. orphans may be nil.
func NewImageService(images ImageRepository, blobs storage.BlobStore, orphans OrphanReporter, log zerolog.Logger) *ImageService {
	return &ImageService{
		images:  images,
		blobs:   blobs,
		orphans: orphans,
		log:     log,
		now:     time.Now,
	}
}

// Upload classifies the content, publishes the blob and then records it.
// The record is only written once the blob is fully in place.
func (s *ImageService) Upload(ctx context.Context, input UploadInput) (models.Image, error) {
	const op = "upload"

	ownerID, err := normalizeOwnerID(input.OwnerID)
	if err != nil {
		return models.Image{}, validationError(op, "invalid owner_id", err)
	}
	if input.Content == nil || input.Size <= 0 {
		return models.Image{}, validationError(op, "image is empty", nil)
	}

	format, err := sniffer.DetectAt(input.Content)
	if err != nil {
		if !sniffer.IsRejection(err) {
			return models.Image{}, validationError(op, "unreadable image", err)
		}
		if errors.Is(err, sniffer.ErrTooShort) {
			return models.Image{}, validationError(op, "image too short", err)
		}
		return models.Image{}, validationError(op, "unsupported image format", err)
	}

	imageID := ids.New()
	location := storage.Key(imageID, format.Extension())

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return models.Image{}, storageError(op, fmt.Errorf("init checksum: %w", err))
	}
	body := io.TeeReader(io.NewSectionReader(input.Content, 0, input.Size), hasher)

	put, err := s.blobs.Put(ctx, location, body, input.Size, format.MediaType())
	if errors.Is(err, storage.ErrBlobLeftBehind) {
		s.log.Error().
			Err(err).
			Str("image_id", imageID).
			Str("location", location).
			Bool("orphan", true).
			Msg("orphaned blob after failed publish")
		s.reportOrphan(ctx, models.Image{ID: imageID, Location: location})
		return models.Image{}, storageError(op, fmt.Errorf("%w: %w", ErrOrphanedBlob, err))
	}
	if err != nil {
		event := s.log.Error()
		if errors.Is(err, context.Canceled) {
			event = s.log.Warn()
		}
		event.Err(err).
			Str("image_id", imageID).
			Str("location", location).
			Msg("blob write failed")
		return models.Image{}, storageError(op, fmt.Errorf("write blob: %w", err))
	}

	image := models.Image{
		ID:        imageID,
		OwnerID:   ownerID,
		Location:  location,
		MediaType: format.MediaType(),
		SizeBytes: put.SizeBytes,
		Checksum:  hasher.Sum(nil),
		CreatedAt: s.now().UTC(),
	}

	if err := s.images.Create(ctx, image); err != nil {
		// The blob stays behind; an unreferenced blob is the recoverable
		// direction of inconsistency.
		s.log.Error().
			Err(err).
			Str("image_id", image.ID).
			Str("location", image.Location).
			Bool("orphan", true).
			Msg("orphaned blob after metadata write failure")
		s.reportOrphan(ctx, image)
		return models.Image{}, storageError(op, fmt.Errorf("%w: %w", ErrOrphanedBlob, err))
	}

	s.log.Debug().
		Str("image_id", image.ID).
		Str("owner_id", image.OwnerID).
		Str("media_type", image.MediaType).
		Int64("size_bytes", image.SizeBytes).
		Msg("image stored")

	return image, nil
}

// Open resolves a record and opens its blob for streaming.
func (s *ImageService) Open(ctx context.Context, rawID string) (Content, error) {
	const op = "open"

	image, err := s.lookup(ctx, op, rawID)
	if err != nil {
		return Content{}, err
	}

	if err := checkStoredFormat(image); err != nil {
		s.log.Error().
			Err(err).
			Str("image_id", image.ID).
			Str("location", image.Location).
			Str("media_type", image.MediaType).
			Msg("inconsistent metadata record")
		return Content{}, storageError(op, err)
	}

	obj, err := s.blobs.Open(ctx, image.Location)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			s.log.Error().
				Err(err).
				Str("image_id", image.ID).
				Str("location", image.Location).
				Msg("dangling metadata record")
			return Content{}, storageError(op, fmt.Errorf("%w: %w", ErrDanglingRecord, err))
		}
		s.log.Error().
			Err(err).
			Str("image_id", image.ID).
			Str("location", image.Location).
			Msg("blob open failed")
		return Content{}, storageError(op, fmt.Errorf("open blob: %w", err))
	}

	return Content{Image: image, Body: obj.Body, SizeBytes: obj.SizeBytes}, nil
}

// Delete removes the record first and the blob second, so an interruption
// leaves at worst an orphaned blob.
func (s *ImageService) Delete(ctx context.Context, rawID string) error {
	const op = "delete"

	id, err := ids.Parse(rawID)
	if err != nil {
		return notFoundError(op, err)
	}

	image, err := s.images.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			return notFoundError(op, err)
		}
		return storageError(op, fmt.Errorf("delete record: %w", err))
	}

	// The record is gone; finish the blob even if the caller went away.
	if err := s.blobs.Delete(context.WithoutCancel(ctx), image.Location); err != nil {
		s.log.Error().
			Err(err).
			Str("image_id", image.ID).
			Str("location", image.Location).
			Msg("blob delete failed after record removal")
		return storageError(op, fmt.Errorf("%w: %w", ErrBlobDeleteFailed, err))
	}

	return nil
}

func (s *ImageService) ListByOwner(ctx context.Context, rawOwnerID string, limit, offset int) ([]models.Image, error) {
	const op = "list"

	ownerID, err := normalizeOwnerID(rawOwnerID)
	if err != nil {
		return nil, validationError(op, "invalid owner_id", err)
	}
	images, err := s.images.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, storageError(op, fmt.Errorf("list records: %w", err))
	}
	return images, nil
}

// checkStoredFormat makes sure a record still names one of the accepted
// formats and that its location carries the matching extension.
func checkStoredFormat(image models.Image) error {
	format, ok := sniffer.FormatFromMediaType(image.MediaType)
	if !ok {
		return fmt.Errorf("%w: unknown media type %q", ErrInconsistentRecord, image.MediaType)
	}
	if _, ext, ok := storage.SplitKey(image.Location); !ok || ext != format.Extension() {
		return fmt.Errorf("%w: location %q does not match %s", ErrInconsistentRecord, image.Location, format)
	}
	return nil
}

// normalizeOwnerID trims the client supplied owner. Owners are opaque; only
// emptiness, length and control characters are rejected.
func normalizeOwnerID(raw string) (string, error) {
	owner := strings.TrimSpace(raw)
	switch {
	case owner == "":
		return "", errors.New("owner id is empty")
	case len(owner) > MaxOwnerIDLength:
		return "", fmt.Errorf("owner id longer than %d bytes", MaxOwnerIDLength)
	case !utf8.ValidString(owner):
		return "", errors.New("owner id is not valid utf-8")
	case strings.IndexFunc(owner, unicode.IsControl) >= 0:
		return "", errors.New("owner id contains control characters")
	}
	return owner, nil
}

func (s *ImageService) lookup(ctx context.Context, op, rawID string) (models.Image, error) {
	id, err := ids.Parse(rawID)
	if err != nil {
		return models.Image{}, notFoundError(op, err)
	}
	image, err := s.images.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrImageNotFound) {
			return models.Image{}, notFoundError(op, err)
		}
		return models.Image{}, storageError(op, fmt.Errorf("load record: %w", err))
	}
	return image, nil
}

func (s *ImageService) reportOrphan(ctx context.Context, image models.Image) {
	if s.orphans == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanReportTimeout)
	defer cancel()

	if err := s.orphans.ReportOrphan(ctx, image.ID, image.Location); err != nil {
		s.log.Warn().
			Err(err).
			Str("image_id", image.ID).
			Str("location", image.Location).
			Msg("orphan report failed")
	}
}
