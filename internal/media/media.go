// Package media validates uploaded images and stores them in object storage.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/h2non/filetype"
)

// MaxImageSize caps decoded image payloads.
const MaxImageSize = 5 * 1024 * 1024

var (
	// ErrInvalidImage is returned when the payload is not a supported image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrTooLarge is returned for payloads over MaxImageSize.
	ErrTooLarge = errors.New("file size exceeds limit")
	// ErrDisabled is returned when no object storage is configured.
	ErrDisabled = errors.New("image uploads are disabled")
)

// Image is a decoded and type checked upload.
type Image struct {
	Data      []byte
	MIME      string
	Extension string
}

// Uploader stores an image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, folder string, img *Image) (string, error)
}

// Disabled rejects every upload.
type Disabled struct{}

func (Disabled) Upload(context.Context, string, *Image) (string, error) {
	return "", ErrDisabled
}

// DecodeImage accepts a base64 data URL ("data:image/png;base64,...") or a
// bare base64 string and returns the image if its content is an image type.
func DecodeImage(payload string) (*Image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrInvalidImage
	}

	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.Contains(payload[:comma], ";base64") {
			return nil, ErrInvalidImage
		}
		payload = payload[comma+1:]
	}

	// base64 inflates by 4/3; reject before decoding
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageSize+2 {
		return nil, ErrTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) > MaxImageSize {
		return nil, ErrTooLarge
	}

	kind, err := filetype.Match(data)
	if err != nil || !filetype.IsImage(data) {
		return nil, ErrInvalidImage
	}

	return &Image{
		Data:      data,
		MIME:      kind.MIME.Value,
		Extension: kind.Extension,
	}, nil
}
