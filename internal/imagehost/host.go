package imagehost

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/qurrota/apiserver/config"
	"github.com/qurrota/apiserver/internal/storage"
)

// ProfileSize is the edge length, in pixels, of stored avatars.
const ProfileSize = 500

// ErrInvalidImage is returned when an upload cannot be decoded as an image.
var ErrInvalidImage = errors.New("invalid image")

// Image describes an uploaded avatar.
type Image struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
}

// Host stores profile images and removes the ones it owns.
type Host interface {
	Upload(ctx context.Context, accountID string, r io.Reader) (Image, error)
	Delete(ctx context.Context, imageURL string) error
	// Owns reports whether imageURL points at an asset this host stored.
	Owns(imageURL string) bool
}

// New builds the host selected by cfg.ImageHost.Provider.
func New(ctx context.Context, cfg config.Config) (Host, error) {
	switch cfg.ImageHost.Provider {
	case config.ImageHostCloudinary:
		return NewCloudinary(cfg.Cloudinary, cfg.ImageHost.Folder)
	case config.ImageHostMinio, config.ImageHostGCS, config.ImageHostS3:
		backend, err := storage.New(ctx, cfg.ImageHost.Provider, cfg)
		if err != nil {
			return nil, err
		}
		return NewBucket(backend, cfg.ImageHost.Folder, cfg.ImageHost.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported image host %q", cfg.ImageHost.Provider)
	}
}
