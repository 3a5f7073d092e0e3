package imagehost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/qurrota/apiserver/config"
)

// ProfileTransformation crops to a face-centred square and lets Cloudinary
// pick quality and format.
const ProfileTransformation = "c_fill,g_face,h_500,w_500/q_auto/f_auto"

type cloudinaryAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// Cloudinary hosts avatars on Cloudinary.
type Cloudinary struct {
	api       cloudinaryAPI
	cloudName string
	folder    string
}

func NewCloudinary(cfg config.CloudinaryConfig, folder string) (*Cloudinary, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary cloud name, api key and api secret are required")
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	cld.Config.URL.Secure = true
	return &Cloudinary{api: &cld.Upload, cloudName: cfg.CloudName, folder: folder}, nil
}

func (c *Cloudinary) Upload(ctx context.Context, accountID string, r io.Reader) (Image, error) {
	res, err := c.api.Upload(ctx, r, uploader.UploadParams{
		PublicID:       "profile_" + accountID,
		Folder:         c.folder,
		ResourceType:   "image",
		Transformation: ProfileTransformation,
		Overwrite:      api.Bool(true),
		Invalidate:     api.Bool(true),
	})
	if err != nil {
		return Image{}, err
	}
	if res.Error.Message != "" {
		return Image{}, fmt.Errorf("cloudinary upload: %s", res.Error.Message)
	}
	return Image{
		URL:      res.SecureURL,
		PublicID: res.PublicID,
		Width:    res.Width,
		Height:   res.Height,
		Format:   res.Format,
	}, nil
}

// Delete destroys the asset behind imageURL. URLs this host does not own
// are ignored.
func (c *Cloudinary) Delete(ctx context.Context, imageURL string) error {
	if !c.Owns(imageURL) {
		return nil
	}
	publicID := PublicIDFromURL(imageURL)
	if publicID == "" {
		return fmt.Errorf("cannot derive public id from %q", imageURL)
	}
	res, err := c.api.Destroy(ctx, uploader.DestroyParams{PublicID: publicID, ResourceType: "image"})
	if err != nil {
		return err
	}
	if res.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy: %s", res.Error.Message)
	}
	return nil
}

func (c *Cloudinary) Owns(imageURL string) bool {
	u, err := url.Parse(imageURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Host, "cloudinary.com") &&
		strings.HasPrefix(u.Path, "/"+c.cloudName+"/")
}

var (
	versionSegment        = regexp.MustCompile(`^v\d+$`)
	transformationSegment = regexp.MustCompile(`^[a-z]{1,2}_[^/]*$`)
)

// PublicIDFromURL extracts the public id (folder included) from a Cloudinary
// delivery URL, dropping transformations, version and file extension.
// It returns "" when the URL is not a delivery URL.
func PublicIDFromURL(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ""
	}
	_, rest, ok := strings.Cut(u.Path, "/upload/")
	if !ok || rest == "" {
		return ""
	}

	segments := strings.Split(rest, "/")
	start := 0
	for i, seg := range segments {
		if versionSegment.MatchString(seg) {
			start = i + 1
			break
		}
	}
	if start == 0 {
		for start < len(segments)-1 && isTransformation(segments[start]) {
			start++
		}
	}
	if start >= len(segments) {
		return ""
	}

	segments = segments[start:]
	last := len(segments) - 1
	segments[last] = strings.TrimSuffix(segments[last], path.Ext(segments[last]))
	return strings.Join(segments, "/")
}

func isTransformation(seg string) bool {
	for _, part := range strings.Split(seg, ",") {
		if !transformationSegment.MatchString(part) {
			return false
		}
	}
	return true
}
