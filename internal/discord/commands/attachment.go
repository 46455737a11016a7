package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// maxUploadSize caps sound uploads.
const maxUploadSize = 10 << 20 // 10 MB

// ErrAttachmentTooLarge is returned when an attachment exceeds the download
// limit.
var ErrAttachmentTooLarge = errors.New("attachment too large")

// AttachmentOption returns the attachment passed for the named option.
// Returns nil if the option is missing or unresolved.
func AttachmentOption(i *discordgo.InteractionCreate, name string) *discordgo.MessageAttachment {
	if i.Type != discordgo.InteractionApplicationCommand {
		return nil
	}
	o := findOption(i, name)
	if o == nil || o.Type != discordgo.ApplicationCommandOptionAttachment {
		return nil
	}
	id, _ := o.Value.(string)
	data := i.ApplicationCommandData()
	if data.Resolved == nil {
		return nil
	}
	return data.Resolved.Attachments[id]
}

// Downloader fetches attachments from the Discord CDN.
type Downloader struct {
	// Client defaults to [http.DefaultClient].
	Client *http.Client

	// MaxSize defaults to 10 MB.
	MaxSize int64
}

// Download fetches the attachment body. Attachments larger than MaxSize,
// by their reported size or by their actual body, fail with
// [ErrAttachmentTooLarge].
func (d *Downloader) Download(ctx context.Context, attachment *discordgo.MessageAttachment) ([]byte, error) {
	if attachment == nil {
		return nil, errors.New("attachment is nil")
	}
	limit := d.MaxSize
	if limit <= 0 {
		limit = maxUploadSize
	}
	if int64(attachment.Size) > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrAttachmentTooLarge, attachment.Size)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attachment.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrAttachmentTooLarge, limit)
	}
	return data, nil
}
