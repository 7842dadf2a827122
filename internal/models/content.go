package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

type ContentKind string

const (
	ContentYouTube ContentKind = "url_youtube"
	ContentFigma   ContentKind = "url_figma"
	ContentLoom    ContentKind = "url_loom"
	ContentEmbed   ContentKind = "url_embed"
	ContentImages  ContentKind = "images"
	ContentPDF     ContentKind = "pdf"
	ContentText    ContentKind = "text"
	ContentCode    ContentKind = "code"
)

// Text and code previews are cut at this many characters
const PreviewLength = 400

var ErrInvalidURL = errors.New("invalid content url")

// ImageRef is a single image of an images content item, usually a data URL.
type ImageRef struct {
	Name    string `json:"name"`
	DataURL string `json:"data_url"`
}

// ContentItem is one piece of material a reviewer looks at.
// Which payload field is used depends on Type.
type ContentItem struct {
	ID     string      `json:"id"`
	Type   ContentKind `json:"type"`
	Label  string      `json:"label"`
	RawURL string      `json:"raw_url,omitempty"`
	Images []ImageRef  `json:"images,omitempty"`
	// Value holds the pdf data URL, the text body or the code snippet.
	Value string `json:"value,omitempty"`
}

func (k ContentKind) IsURL() bool {
	switch k {
	case ContentYouTube, ContentFigma, ContentLoom, ContentEmbed:
		return true
	}
	return false
}

func (k ContentKind) Valid() bool {
	switch k {
	case ContentYouTube, ContentFigma, ContentLoom, ContentEmbed, ContentImages, ContentPDF, ContentText, ContentCode:
		return true
	}
	return false
}

// DetectURLType classifies a link by its host.
func DetectURLType(raw string) (ContentKind, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", ErrInvalidURL
	}

	host := strings.Replace(u.Hostname(), "www.", "", 1)
	switch {
	case strings.Contains(host, "youtube.com"), strings.Contains(host, "youtu.be"):
		return ContentYouTube, nil
	case strings.Contains(host, "figma.com"):
		return ContentFigma, nil
	case strings.Contains(host, "loom.com"):
		return ContentLoom, nil
	}
	return ContentEmbed, nil
}

func newContentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewURLContent builds a content item from a pasted link.
func NewURLContent(raw, label string) (ContentItem, error) {
	kind, err := DetectURLType(raw)
	if err != nil {
		return ContentItem{}, err
	}
	if label == "" {
		label = defaultLabel(kind)
	}
	return ContentItem{ID: newContentID(), Type: kind, Label: label, RawURL: strings.TrimSpace(raw)}, nil
}

// NewTextContent builds a text or code item.
func NewTextContent(kind ContentKind, value, label string) (ContentItem, error) {
	if kind != ContentText && kind != ContentCode {
		return ContentItem{}, fmt.Errorf("content kind %q does not carry text", kind)
	}
	if strings.TrimSpace(value) == "" {
		return ContentItem{}, errors.New("content is empty")
	}
	if label == "" {
		label = defaultLabel(kind)
	}
	return ContentItem{ID: newContentID(), Type: kind, Label: label, Value: value}, nil
}

func NewImagesContent(images []ImageRef, label string) (ContentItem, error) {
	if len(images) == 0 {
		return ContentItem{}, errors.New("no images provided")
	}
	if label == "" {
		label = defaultLabel(ContentImages)
	}
	return ContentItem{ID: newContentID(), Type: ContentImages, Label: label, Images: images}, nil
}

func NewPDFContent(dataURL, label string) (ContentItem, error) {
	if dataURL == "" {
		return ContentItem{}, errors.New("no pdf provided")
	}
	if label == "" {
		label = defaultLabel(ContentPDF)
	}
	return ContentItem{ID: newContentID(), Type: ContentPDF, Label: label, Value: dataURL}, nil
}

func defaultLabel(kind ContentKind) string {
	switch kind {
	case ContentYouTube:
		return "YouTube video"
	case ContentFigma:
		return "Figma file"
	case ContentLoom:
		return "Loom recording"
	case ContentEmbed:
		return "Web page"
	case ContentImages:
		return "Images"
	case ContentPDF:
		return "PDF"
	case ContentCode:
		return "Code"
	}
	return "Text"
}

// EmbedURL returns the URL a frontend frames for URL kinds.
// It is empty for kinds that are not embedded.
func (ci ContentItem) EmbedURL() string {
	switch ci.Type {
	case ContentYouTube:
		return youTubeEmbedURL(ci.RawURL)
	case ContentFigma:
		return "https://www.figma.com/embed?embed_host=ff&url=" + url.QueryEscape(ci.RawURL)
	case ContentLoom:
		embed := strings.Replace(ci.RawURL, "/share/", "/embed/", 1)
		return strings.SplitN(embed, "?", 2)[0]
	case ContentEmbed:
		return ci.RawURL
	}
	return ""
}

func youTubeEmbedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	id := u.Query().Get("v")
	if id == "" && u.Hostname() == "youtu.be" {
		id = strings.TrimPrefix(u.Path, "/")
	}
	embed := "https://www.youtube.com/embed/" + id
	if t := u.Query().Get("t"); t != "" {
		embed += "?start=" + t
	}
	return embed
}

// Preview is a short form of the item for listings.
func (ci ContentItem) Preview() string {
	switch ci.Type {
	case ContentText, ContentCode:
		runes := []rune(ci.Value)
		if len(runes) > PreviewLength {
			return string(runes[:PreviewLength]) + "…"
		}
		return ci.Value
	case ContentImages:
		return fmt.Sprintf("%d image(s)", len(ci.Images))
	case ContentPDF:
		return ci.Label
	}
	return ci.RawURL
}

func (ci ContentItem) Validate() error {
	if !ci.Type.Valid() {
		return fmt.Errorf("unknown content type %q", ci.Type)
	}
	switch {
	case ci.Type.IsURL():
		if _, err := DetectURLType(ci.RawURL); err != nil {
			return err
		}
	case ci.Type == ContentImages:
		if len(ci.Images) == 0 {
			return errors.New("images item has no images")
		}
	default:
		if ci.Value == "" {
			return fmt.Errorf("%s item is empty", ci.Type)
		}
	}
	return nil
}
