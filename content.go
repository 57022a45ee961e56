package agentpipe

import "bytes"

// ContentType identifies an outbound content block.
type ContentType string

const (
	// ContentText is a text block.
	ContentText ContentType = "text"

	// ContentImage is an image block.
	ContentImage ContentType = "image"
)

// Image media types recognized by DetectMediaType.
const (
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
	MediaTypeGIF  = "image/gif"
	MediaTypeWebP = "image/webp"
)

// Content is one block of an outbound user turn.
type Content struct {
	Type  ContentType
	Text  string
	Image *Image
}

// Image is raw image data tagged with its media type.
type Image struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// UserMessage is a user-authored message. All messages passed to a single
// Send or Submit call are merged into one wire turn.
type UserMessage struct {
	Content []Content
}

// TextMessage returns a UserMessage with a single text block.
func TextMessage(text string) UserMessage {
	return UserMessage{Content: []Content{TextContent(text)}}
}

// TextContent returns a text content block.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// ImageContent returns an image content block. If mediaType is empty it
// is detected from the leading bytes of data.
func ImageContent(data []byte, mediaType string) Content {
	if mediaType == "" {
		mediaType = DetectMediaType(data)
	}
	return Content{Type: ContentImage, Image: &Image{MediaType: mediaType, Data: data}}
}

var (
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicGIF  = []byte{0x47, 0x49, 0x46, 0x38}
	magicRIFF = []byte{0x52, 0x49, 0x46, 0x46}
	magicWEBP = []byte{0x57, 0x45, 0x42, 0x50}
)

// DetectMediaType returns the image media type for data based on its magic
// bytes. Unrecognized or short input yields MediaTypePNG.
func DetectMediaType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, magicPNG):
		return MediaTypePNG
	case bytes.HasPrefix(data, magicJPEG):
		return MediaTypeJPEG
	case bytes.HasPrefix(data, magicGIF):
		return MediaTypeGIF
	case len(data) >= 12 && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWEBP):
		return MediaTypeWebP
	default:
		return MediaTypePNG
	}
}
