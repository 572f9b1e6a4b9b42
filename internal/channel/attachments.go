package channel

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"chatbridge/internal/domain"
	"chatbridge/internal/metrics"
)

// Upload is one file part received with the webhook request.
type Upload struct {
	Field    string
	Filename string
	Open     func() (io.ReadCloser, error)
}

// attachmentKinds maps a declared lowercase MIME type to the attachment kind
// it produces. A request carries a single kind, chosen by its filetype field.
var attachmentKinds = map[string]domain.AttachmentKind{
	"image/png":  domain.AttachmentImage,
	"image/jpg":  domain.AttachmentImage,
	"image/bmp":  domain.AttachmentImage,
	"image/webp": domain.AttachmentImage,
	"image/gif":  domain.AttachmentImage,

	"audio/mp3":  domain.AttachmentAudio,
	"audio/ogg":  domain.AttachmentAudio,
	"audio/wav":  domain.AttachmentAudio,
	"audio/mpeg": domain.AttachmentAudio,
	"audio/webm": domain.AttachmentAudio,

	"video/mp4":       domain.AttachmentVideo,
	"video/mov":       domain.AttachmentVideo,
	"video/avi":       domain.AttachmentVideo,
	"video/x-msvideo": domain.AttachmentVideo,
	"video/mpeg":      domain.AttachmentVideo,
	"video/ogg":       domain.AttachmentVideo,
	"video/webm":      domain.AttachmentVideo,

	"application/pdf":    domain.AttachmentFile,
	"application/msword": domain.AttachmentFile,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": domain.AttachmentFile,
	"application/gzip":         domain.AttachmentFile,
	"application/vnd.ms-excel": domain.AttachmentFile,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": domain.AttachmentFile,
	"application/zip": domain.AttachmentFile,
}

// ClassifyType returns the attachment kind for a declared MIME type.
func ClassifyType(filetype string) (domain.AttachmentKind, bool) {
	kind, ok := attachmentKinds[strings.ToLower(filetype)]
	return kind, ok
}

// addAttachments persists the request's uploads and attaches them to msg.
// Unknown types fail only when the client actually named a file.
func (d *Driver) addAttachments(ctx context.Context, msg *domain.IncomingMessage) error {
	kind, ok := ClassifyType(d.fields["filetype"])
	if !ok {
		if name := d.fields["filename"]; name != "" {
			return fmt.Errorf("%w: %s", domain.ErrUnsupportedAttachmentType, name)
		}
		return nil
	}

	attachments := make([]domain.Attachment, 0, len(d.uploads))
	for _, up := range d.uploads {
		a, err := d.storeUpload(ctx, kind, up)
		if err != nil {
			return err
		}
		attachments = append(attachments, a)
	}

	switch kind {
	case domain.AttachmentImage:
		msg.Images = attachments
	case domain.AttachmentAudio:
		msg.Audio = attachments
	case domain.AttachmentVideo:
		msg.Videos = attachments
	case domain.AttachmentFile:
		msg.Files = attachments
	}
	msg.Text = kind.Pattern()
	metrics.AttachmentsStored.With(string(kind)).Add(int64(len(attachments)))
	return nil
}

func (d *Driver) storeUpload(ctx context.Context, kind domain.AttachmentKind, up Upload) (domain.Attachment, error) {
	rc, err := up.Open()
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("open upload %q: %w", up.Filename, err)
	}
	defer rc.Close()

	name := uuid.NewString()
	var p string
	if kind == domain.AttachmentImage {
		p = path.Join(d.cfg.CacheDir, name+".png")
		if err := d.cfg.Blobs.ResizeAndSave(ctx, rc, d.cfg.ImageMaxWidth, d.cfg.ImageMaxHeight, p); err != nil {
			return domain.Attachment{}, fmt.Errorf("store image %q: %w", up.Filename, err)
		}
	} else {
		p = path.Join(d.cfg.CacheDir, name+filepath.Ext(up.Filename))
		if err := d.cfg.Blobs.Put(ctx, p, rc); err != nil {
			return domain.Attachment{}, fmt.Errorf("store %s %q: %w", kind, up.Filename, err)
		}
	}

	d.logger.Debug("attachment stored", "kind", kind, "path", p, "filename", up.Filename)
	return domain.Attachment{Kind: kind, URL: d.cfg.Blobs.URL(p)}, nil
}
