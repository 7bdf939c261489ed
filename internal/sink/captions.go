package sink

import (
	"log/slog"

	"github.com/zsiec/reel/internal/media"
)

// CaptionLog logs every caption update at Info.
type CaptionLog struct {
	log *slog.Logger
}

// NewCaptionLog returns a caption sink logging to log.
func NewCaptionLog(log *slog.Logger) *CaptionLog {
	if log == nil {
		log = slog.Default()
	}
	return &CaptionLog{log: log.With("component", "captions")}
}

func (c *CaptionLog) WriteCaptions(pts int64, captions []media.Caption) error {
	for _, cc := range captions {
		c.log.Info("caption", "pts", pts, "channel", cc.Channel, "text", cc.Text)
	}
	return nil
}
