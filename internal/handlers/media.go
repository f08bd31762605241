package handlers

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"imagedrop/internal/service"
)

type imageResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	MediaType string    `json:"mediaType"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h HandlerSet) UploadImage(c *gin.Context) {
	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request_too_large"})
		case errors.Is(err, http.ErrMissingFile):
			c.JSON(http.StatusBadRequest, gin.H{"error": "image_required"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_multipart"})
		}
		return
	}
	if header.Size > h.cfg.Upload.MaxFileBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image_too_large"})
		return
	}

	file, err := header.Open()
	if err != nil {
		h.log.Warn().Err(err).Msg("open staged upload failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_image"})
		return
	}
	defer file.Close()

	image, err := h.images.Upload(c.Request.Context(), service.UploadInput{
		OwnerID: c.PostForm("owner_id"),
		Content: file,
		Size:    header.Size,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.String(http.StatusCreated, image.ID)
}

func (h HandlerSet) DownloadImage(c *gin.Context) {
	content, err := h.images.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer content.Body.Close()

	c.DataFromReader(http.StatusOK, content.SizeBytes, content.Image.MediaType, content.Body, map[string]string{
		"Content-Disposition":    contentDisposition(content.Image.ID),
		"ETag":                   `"` + hex.EncodeToString(content.Image.Checksum) + `"`,
		"X-Content-Type-Options": "nosniff",
	})
}

func (h HandlerSet) DeleteImage(c *gin.Context) {
	if err := h.images.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ListImages(c *gin.Context) {
	limit := 50
	offset := 0

	if perPage := c.Query("perPage"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if page := c.Query("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 1 {
			offset = (v - 1) * limit
		}
	}

	images, err := h.images.ListByOwner(c.Request.Context(), c.Query("owner_id"), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}

	items := make([]imageResponse, 0, len(images))
	for _, img := range images {
		items = append(items, imageResponse{
			ID:        img.ID,
			OwnerID:   img.OwnerID,
			MediaType: img.MediaType,
			SizeBytes: img.SizeBytes,
			CreatedAt: img.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
	})
}

// contentDisposition uses the RFC 5987 extended form so any id survives as a filename.
func contentDisposition(id string) string {
	return "attachment; filename*=UTF-8''" + encodeExtValue(id)
}

// encodeExtValue percent-encodes every byte outside the RFC 5987 attr-char set.
func encodeExtValue(value string) string {
	const upperHex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
