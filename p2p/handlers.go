package p2p

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"
)

// AnnouncementHandler processes an incoming certificate announcement.
type AnnouncementHandler func(ctx context.Context, a *Announcement, from peer.ID) error

// MessageHandlers holds handlers for different message types.
type MessageHandlers struct {
	OnAnnouncement AnnouncementHandler
	Logger         *slog.Logger
}

// HandleAnnouncementMessage decodes and processes an incoming announcement.
func (h *MessageHandlers) HandleAnnouncementMessage(ctx context.Context, data []byte, from peer.ID) error {
	a, err := decodeAnnouncement(data)
	if err != nil {
		return err
	}

	if h.Logger != nil {
		h.Logger.Debug("received certificate announcement",
			"id", a.Certificate.ID().Short(),
			"prev", a.Certificate.Certificate().PreviousCertificateID().Short(),
			"from", from,
		)
	}

	if h.OnAnnouncement != nil {
		return h.OnAnnouncement(ctx, a, from)
	}
	return nil
}

// EncodeAnnouncement marshals and compresses a for publishing.
func EncodeAnnouncement(a *Announcement) ([]byte, error) {
	data, err := a.MarshalSSZ()
	if err != nil {
		return nil, fmt.Errorf("marshal announcement: %w", err)
	}
	return CompressMessage(data), nil
}

func decodeAnnouncement(data []byte) (*Announcement, error) {
	decoded, err := DecompressMessage(data)
	if err != nil {
		return nil, fmt.Errorf("decompress announcement: %w", err)
	}
	a, err := UnmarshalAnnouncement(decoded)
	if err != nil {
		return nil, fmt.Errorf("unmarshal announcement: %w", err)
	}
	return a, nil
}
