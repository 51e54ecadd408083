package normalizer

import (
	"strings"

	"shopify-catalog-mirror/internal/domain"
)

// MediaKind tags a member of the media union
type MediaKind int

const (
	MediaKindUnknown MediaKind = iota
	MediaKindImage
	MediaKindVideo
	MediaKindExternalVideo
	MediaKindModel3D
)

func (k MediaKind) String() string {
	switch k {
	case MediaKindImage:
		return "image"
	case MediaKindVideo:
		return "video"
	case MediaKindExternalVideo:
		return "external_video"
	case MediaKindModel3D:
		return "model_3d"
	default:
		return "unknown"
	}
}

// Media is the tagged form of RawMedia. Image is set only for MediaKindImage.
type Media struct {
	Kind  MediaKind
	Image *domain.MediaImage
}

var mediaKindsByTypename = map[string]MediaKind{
	"mediaimage":    MediaKindImage,
	"video":         MediaKindVideo,
	"externalvideo": MediaKindExternalVideo,
	"model3d":       MediaKindModel3D,
}

var mediaKindsByContentType = map[string]MediaKind{
	"IMAGE":          MediaKindImage,
	"VIDEO":          MediaKindVideo,
	"EXTERNAL_VIDEO": MediaKindExternalVideo,
	"MODEL_3D":       MediaKindModel3D,
}

// TagMedia resolves the declared kind of a media node, preferring __typename
func TagMedia(m RawMedia) Media {
	kind, ok := mediaKindsByTypename[strings.ToLower(m.Typename)]
	if !ok {
		kind = mediaKindsByContentType[strings.ToUpper(m.MediaContentType)]
	}
	out := Media{Kind: kind}
	if kind == MediaKindImage && m.Image != nil && m.Image.URL != "" {
		out.Image = &domain.MediaImage{URL: m.Image.URL, AltText: nonEmpty(m.Image.AltText)}
	}
	return out
}

// PrimaryImage returns the first image-kind media that carries an image, nil when none does
func PrimaryImage(media []Media) *domain.MediaImage {
	for _, m := range media {
		if m.Kind == MediaKindImage && m.Image != nil {
			return m.Image
		}
	}
	return nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
