package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/1ureka/mirror/internal/util"
)

var log = util.Scoped("media")

// IVFSource plays an IVF file (VP8, VP9 or AV1) as the shared display. The
// stream ends when the file is exhausted.
type IVFSource struct {
	Path string
}

var _ Source = (*IVFSource)(nil)

// mimeForFourCC maps IVF FourCC codes to RTP mime types.
func mimeForFourCC(fourcc string) (string, bool) {
	switch fourcc {
	case "VP80":
		return webrtc.MimeTypeVP8, true
	case "VP90":
		return webrtc.MimeTypeVP9, true
	case "AV01":
		return webrtc.MimeTypeAV1, true
	}
	return "", false
}

func (s *IVFSource) Capture(ctx context.Context, c Constraints) (*Stream, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, s.Path)
		default:
			return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
		}
	}

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAvailable, s.Path, err)
	}
	mime, ok := mimeForFourCC(header.FourCC)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("%w: unsupported codec %q", ErrNotAvailable, header.FourCC)
	}

	if c.Width > 0 && int(header.Width) > c.Width || c.Height > 0 && int(header.Height) > c.Height {
		log.Warn("source is %dx%d, larger than requested %dx%d", header.Width, header.Height, c.Width, c.Height)
	}
	if c.Audio {
		log.Debug("audio requested but IVF carries video only")
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", id)
	if err != nil {
		f.Close()
		return nil, err
	}

	playCtx, cancel := context.WithCancel(ctx)
	stream := NewStream(id, []webrtc.TrackLocal{track}, cancel)

	frame := frameDuration(header.TimebaseNumerator, header.TimebaseDenominator, c.FrameRate)
	go func() {
		defer f.Close()
		defer stream.End()
		play(playCtx, reader, track, frame)
	}()

	log.Info("sharing %s (%s %dx%d)", s.Path, mime, header.Width, header.Height)
	return stream, nil
}

// frameDuration derives the frame interval from the IVF timebase, falling
// back to the requested frame rate and then to 30fps.
func frameDuration(num, den uint32, fps int) time.Duration {
	if num > 0 && den > 0 {
		if d := time.Duration(float64(num) / float64(den) * float64(time.Second)); d > 0 {
			return d
		}
	}
	if fps <= 0 {
		fps = 30
	}
	return time.Second / time.Duration(fps)
}

type frameReader interface {
	ParseNextFrame() ([]byte, *ivfreader.IVFFrameHeader, error)
}

type sampleWriter interface {
	WriteSample(media.Sample) error
}

func play(ctx context.Context, r frameReader, w sampleWriter, frame time.Duration) {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data, _, err := r.ParseNextFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("read frame: %v", err)
			}
			return
		}
		if err := w.WriteSample(media.Sample{Data: data, Duration: frame}); err != nil {
			log.Warn("write sample: %v", err)
			return
		}
		util.Stats.AddSent(len(data))
	}
}
