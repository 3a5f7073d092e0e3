package imagehost

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/qurrota/apiserver/internal/storage"
)

// MaxPixels bounds the decoded size of an upload. Compressed formats can
// declare far larger canvases than their byte size suggests.
const MaxPixels = 40_000_000

// Bucket hosts avatars in object storage. Images are cropped to a
// ProfileSize square and re-encoded as JPEG before upload.
type Bucket struct {
	store     storage.ObjectStorage
	folder    string
	baseURL   string
	maxPixels int
}

// NewBucket returns a host that serves objects from baseURL, which must map
// to the root of the bucket.
func NewBucket(store storage.ObjectStorage, folder, baseURL string) *Bucket {
	return &Bucket{
		store:     store,
		folder:    strings.Trim(folder, "/"),
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxPixels: MaxPixels,
	}
}

func (b *Bucket) Upload(ctx context.Context, accountID string, r io.Reader) (Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Image{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(b.maxPixels) {
		return Image{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, b.maxPixels)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	dst := imaging.Fill(src, ProfileSize, ProfileSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return Image{}, err
	}

	publicID := fmt.Sprintf("profile_%s_%s", accountID, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	if b.folder != "" {
		publicID = b.folder + "/" + publicID
	}
	key := publicID + ".jpg"

	if err := b.store.Put(ctx, key, &buf, int64(buf.Len()), "image/jpeg"); err != nil {
		return Image{}, fmt.Errorf("put %s: %w", key, err)
	}

	bounds := dst.Bounds()
	return Image{
		URL:      b.baseURL + "/" + key,
		PublicID: publicID,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Format:   "jpg",
	}, nil
}

// Delete removes the object behind imageURL. URLs outside baseURL are ignored.
func (b *Bucket) Delete(ctx context.Context, imageURL string) error {
	if !b.Owns(imageURL) {
		return nil
	}
	return b.store.Delete(ctx, strings.TrimPrefix(imageURL, b.baseURL+"/"))
}

func (b *Bucket) Owns(imageURL string) bool {
	return b.baseURL != "" && strings.HasPrefix(imageURL, b.baseURL+"/")
}
