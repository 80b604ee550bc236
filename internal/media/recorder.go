package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"

	"github.com/1ureka/mirror/internal/util"
)

// ErrUnsupportedCodec is returned by Record for tracks IVF cannot hold.
var ErrUnsupportedCodec = errors.New("codec cannot be written as IVF")

func ivfCodec(mime string) (string, bool) {
	for _, m := range []string{webrtc.MimeTypeVP8, webrtc.MimeTypeVP9, webrtc.MimeTypeAV1} {
		if strings.EqualFold(mime, m) {
			return m, true
		}
	}
	return "", false
}

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Record writes a remote video track to an IVF file at path. It returns
// when the track ends or ctx is done; a track that ends normally is not an
// error.
func Record(ctx context.Context, track RemoteTrack, path string) error {
	mime, ok := ivfCodec(track.Codec().MimeType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, track.Codec().MimeType)
	}

	w, err := ivfwriter.New(path, ivfwriter.WithCodec(mime))
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	log.Info("recording stream %s to %s", track.StreamID(), path)
	return copyRTP(ctx, track, w)
}

func copyRTP(ctx context.Context, track RemoteTrack, w rtpWriter) (err error) {
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		pkt, _, rerr := track.ReadRTP()
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
		util.Stats.AddRecv(len(pkt.Payload))
		if werr := w.WriteRTP(pkt); werr != nil {
			return werr
		}
	}
}
