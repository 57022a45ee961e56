package claude

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmora/agentpipe"
	"github.com/tidwall/gjson"
)

// Outbound wire shapes.
type (
	wireTurn struct {
		Type    string      `json:"type"`
		Message wireUserMsg `json:"message"`
	}

	wireUserMsg struct {
		Role    string     `json:"role"`
		Content []wirePart `json:"content"`
	}

	wirePart struct {
		Type   string      `json:"type"`
		Text   string      `json:"text,omitempty"`
		Source *wireSource `json:"source,omitempty"`
	}

	wireSource struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	}
)

// FormatTurn merges the content of msgs into one user turn:
//
//	{"type":"user","message":{"role":"user","content":[...]}}
//
// Images without a media type are tagged by DetectMediaType.
func (b *Backend) FormatTurn(msgs ...agentpipe.UserMessage) ([]byte, error) {
	var parts []wirePart
	for _, m := range msgs {
		for _, c := range m.Content {
			part, err := encodePart(c)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return nil, errors.New("claude: turn has no content")
	}

	data, err := json.Marshal(wireTurn{
		Type:    "user",
		Message: wireUserMsg{Role: "user", Content: parts},
	})
	if err != nil {
		return nil, fmt.Errorf("claude: marshal turn: %w", err)
	}
	return data, nil
}

func encodePart(c agentpipe.Content) (wirePart, error) {
	switch c.Type {
	case agentpipe.ContentText:
		if containsNull(c.Text) {
			return wirePart{}, errors.New("claude: message contains null bytes")
		}
		return wirePart{Type: "text", Text: c.Text}, nil
	case agentpipe.ContentImage:
		if c.Image == nil || len(c.Image.Data) == 0 {
			return wirePart{}, errors.New("claude: image content without data")
		}
		mediaType := c.Image.MediaType
		if mediaType == "" {
			mediaType = agentpipe.DetectMediaType(c.Image.Data)
		}
		return wirePart{Type: "image", Source: &wireSource{
			Type:      "base64",
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(c.Image.Data),
		}}, nil
	default:
		return wirePart{}, fmt.Errorf("claude: unknown content type %q", c.Type)
	}
}

// ParseTurn decodes a user turn written by FormatTurn (or by another
// producer of the same shape). A plain string content is read as a single
// text block.
func ParseTurn(line string) (agentpipe.UserMessage, error) {
	if !gjson.Valid(line) {
		return agentpipe.UserMessage{}, errors.New("claude: invalid JSON")
	}
	if t := gjson.Get(line, "type").String(); t != "user" {
		return agentpipe.UserMessage{}, fmt.Errorf("claude: not a user turn: %q", t)
	}

	content := gjson.Get(line, "message.content")
	if content.Type == gjson.String {
		return agentpipe.TextMessage(content.Str), nil
	}
	if !content.IsArray() {
		return agentpipe.UserMessage{}, errors.New("claude: user turn without content")
	}

	var parts []wirePart
	if err := json.Unmarshal([]byte(content.Raw), &parts); err != nil {
		return agentpipe.UserMessage{}, fmt.Errorf("claude: decode turn content: %w", err)
	}
	var msg agentpipe.UserMessage
	for _, p := range parts {
		switch p.Type {
		case "text":
			msg.Content = append(msg.Content, agentpipe.TextContent(p.Text))
		case "image":
			img, err := decodeImage(p.Source)
			if err != nil {
				return agentpipe.UserMessage{}, err
			}
			msg.Content = append(msg.Content, agentpipe.Content{Type: agentpipe.ContentImage, Image: img})
		default:
			return agentpipe.UserMessage{}, fmt.Errorf("claude: unknown content type %q", p.Type)
		}
	}
	return msg, nil
}

// decodeImage decodes a base64 image source. A missing media type is
// detected from the data.
func decodeImage(src *wireSource) (*agentpipe.Image, error) {
	if src == nil {
		return nil, errors.New("claude: image without source")
	}
	if src.Type != "base64" {
		return nil, fmt.Errorf("claude: unsupported image source %q", src.Type)
	}
	data, err := base64.StdEncoding.DecodeString(src.Data)
	if err != nil {
		return nil, fmt.Errorf("claude: decode image: %w", err)
	}
	mediaType := src.MediaType
	if mediaType == "" {
		mediaType = agentpipe.DetectMediaType(data)
	}
	return &agentpipe.Image{MediaType: mediaType, Data: data}, nil
}
