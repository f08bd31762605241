package service

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"imagedrop/internal/models"
	"imagedrop/internal/repository"
)

type memRepository struct {
	mu        sync.Mutex
	images    map[string]models.Image
	createErr error
	deleteErr error
}

func newMemRepository() *memRepository {
	return &memRepository{images: map[string]models.Image{}}
}

func (r *memRepository) Create(_ context.Context, image models.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.images[image.ID] = image
	return nil
}

func (r *memRepository) GetByID(_ context.Context, id string) (models.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	image, ok := r.images[id]
	if !ok {
		return models.Image{}, repository.ErrImageNotFound
	}
	return image, nil
}

func (r *memRepository) Delete(_ context.Context, id string) (models.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return models.Image{}, r.deleteErr
	}
	image, ok := r.images[id]
	if !ok {
		return models.Image{}, repository.ErrImageNotFound
	}
	delete(r.images, id)
	return image, nil
}

func (r *memRepository) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]models.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Image
	for _, image := range r.images {
		if image.OwnerID == ownerID {
			out = append(out, image)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepository) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.images)
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []string
}

func (r *recordingReporter) ReportOrphan(_ context.Context, imageID, location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, imageID+"|"+location)
	return nil
}

func pngBytes(body string) []byte {
	return append([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d}, body...)
}

func jpegBytes(body string) []byte {
	return append([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}, body...)
}

func webpBytes(body string) []byte {
	return append([]byte("RIFF\x1a\x00\x00\x00WEBPVP8 "), body...)
}

func upload(owner string, data []byte) UploadInput {
	return UploadInput{OwnerID: owner, Content: bytes.NewReader(data), Size: int64(len(data))}
}
