package domain

// AttachmentKind names the wire "type" of an attachment.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentFile     AttachmentKind = "file"
	AttachmentLocation AttachmentKind = "location"
)

// Placeholder texts substituted for the message text when an upload dominates it.
const (
	ImagePattern    = "%%%_IMAGE_%%%"
	AudioPattern    = "%%%_AUDIO_%%%"
	VideoPattern    = "%%%_VIDEO_%%%"
	FilePattern     = "%%%_FILE_%%%"
	LocationPattern = "%%%_LOCATION_%%%"
)

// Pattern returns the sentinel text for the attachment kind.
func (k AttachmentKind) Pattern() string {
	switch k {
	case AttachmentImage:
		return ImagePattern
	case AttachmentAudio:
		return AudioPattern
	case AttachmentVideo:
		return VideoPattern
	case AttachmentFile:
		return FilePattern
	case AttachmentLocation:
		return LocationPattern
	}
	return ""
}

// Attachment references externally persisted media. It owns no bytes.
type Attachment struct {
	Kind      AttachmentKind `json:"type"`
	URL       string         `json:"url,omitempty"`
	Latitude  float64        `json:"latitude,omitempty"`
	Longitude float64        `json:"longitude,omitempty"`
}

func NewImage(url string) Attachment { return Attachment{Kind: AttachmentImage, URL: url} }
func NewAudio(url string) Attachment { return Attachment{Kind: AttachmentAudio, URL: url} }
func NewVideo(url string) Attachment { return Attachment{Kind: AttachmentVideo, URL: url} }
func NewFile(url string) Attachment  { return Attachment{Kind: AttachmentFile, URL: url} }

// NewLocation builds a location attachment. Locations carry coordinates instead of a URL.
func NewLocation(lat, lng float64) Attachment {
	return Attachment{Kind: AttachmentLocation, Latitude: lat, Longitude: lng}
}

// WireForm returns the representation sent to web clients.
func (a Attachment) WireForm() map[string]any {
	if a.Kind == AttachmentLocation {
		return map[string]any{
			"type":      string(a.Kind),
			"latitude":  a.Latitude,
			"longitude": a.Longitude,
		}
	}
	return map[string]any{
		"type": string(a.Kind),
		"url":  a.URL,
	}
}

// IncomingMessage is the canonical form of one inbound webhook request.
type IncomingMessage struct {
	Text      string
	Sender    string
	Recipient string
	Payload   map[string]string

	Images []Attachment
	Audio  []Attachment
	Videos []Attachment
	Files  []Attachment
}

// Attachments returns every attachment on the message, images first.
func (m *IncomingMessage) Attachments() []Attachment {
	all := make([]Attachment, 0, len(m.Images)+len(m.Audio)+len(m.Videos)+len(m.Files))
	all = append(all, m.Images...)
	all = append(all, m.Audio...)
	all = append(all, m.Videos...)
	all = append(all, m.Files...)
	return all
}

// User identifies the visitor behind a message.
type User struct {
	ID   string
	Info map[string]any
}

// Answer is the reply to a pending conversation question.
type Answer struct {
	Text        string
	Value       string
	Interactive bool
	Message     *IncomingMessage
}

// Event is a client-side event forwarded through the webhook instead of a message.
type Event struct {
	Name string
	Data string
}
