package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/omnidesk-io/omnidesk/internal/channels"
	"github.com/omnidesk-io/omnidesk/internal/store"
)

const (
	downloadTimeout = 30 * time.Second
	thumbnailWidth  = 320
)

// bridgeMessage is an inbound message frame from the bridge.
type bridgeMessage struct {
	ID        string `json:"id"`
	Chat      string `json:"chat"`
	Sender    string `json:"sender"`
	PushName  string `json:"push_name"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	MediaURL  string `json:"media_url"`
	MimeType  string `json:"mime_type"`
	FromMe    bool   `json:"from_me"`
	Timestamp int64  `json:"timestamp"`
}

// nativeAddress maps a chat JID to the stored client identity. Group and
// broadcast chats keep the full address so distinct groups stay distinct
// clients; one-to-one chats reduce to the phone digits. The second return
// is false for chats that must be dropped entirely.
func nativeAddress(chat string) (string, bool) {
	switch {
	case strings.HasSuffix(chat, "@newsletter"):
		return "", false
	case strings.HasSuffix(chat, "@g.us"), strings.HasSuffix(chat, "@broadcast"):
		return chat, true
	default:
		return channels.DigitsOnly(chat), true
	}
}

// isGenericName reports whether the bridge-supplied display name carries no
// real information (empty, the bare phone number, or a placeholder).
func isGenericName(name, address string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	if channels.DigitsOnly(name) == channels.DigitsOnly(address) && channels.DigitsOnly(name) != "" {
		return true
	}
	switch strings.ToLower(name) {
	case "whatsapp user", "unknown":
		return true
	}
	return false
}

// messageKind maps the bridge kind string onto a store kind; anything
// unrecognized is treated as a document.
func messageKind(kind string) store.MessageKind {
	switch kind {
	case "text", "":
		return store.KindText
	case "image", "sticker":
		return store.KindImage
	case "video":
		return store.KindVideo
	case "audio", "ptt":
		return store.KindAudio
	default:
		return store.KindDocument
	}
}

// extensionFor picks a filename extension from the mime type.
func extensionFor(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(mime, "image/png"):
		return ".png"
	case strings.HasPrefix(mime, "image/webp"):
		return ".webp"
	case strings.HasPrefix(mime, "video/"):
		return ".mp4"
	case strings.HasPrefix(mime, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(mime, "audio/"):
		return ".mp3"
	case strings.HasPrefix(mime, "application/pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}

// downloadMedia fetches a media URL into the media directory, enforcing the
// configured size cap, and returns the local path. A thumbnail is rendered
// next to images when enabled.
func (c *Channel) downloadMedia(ctx context.Context, url, mime string, kind store.MessageKind) (string, error) {
	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}

	name := uuid.Must(uuid.NewV7()).String() + extensionFor(mime)
	path := filepath.Join(c.mediaDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	written, err := io.Copy(f, io.LimitReader(resp.Body, c.maxDownload+1))
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write media: %w", err)
	}
	if closeErr != nil {
		os.Remove(path)
		return "", closeErr
	}
	if written > c.maxDownload {
		os.Remove(path)
		return "", fmt.Errorf("media exceeds size limit (%d bytes)", c.maxDownload)
	}

	if c.thumbnails && kind == store.KindImage {
		c.writeThumbnail(path)
	}
	return path, nil
}

// writeThumbnail renders a small preview next to the original image. Failure
// is logged by the caller side effects only; the original stays usable.
func (c *Channel) writeThumbnail(path string) {
	img, err := imaging.Open(path)
	if err != nil {
		return
	}
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	ext := filepath.Ext(path)
	out := strings.TrimSuffix(path, ext) + "_thumb.jpg"
	_ = imaging.Save(thumb, out, imaging.JPEGQuality(80))
}
