package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/media"
)

type countingCloser struct{ n int }

func (c *countingCloser) Close() error { c.n++; return nil }

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(fmt.Errorf("open /dev/video0: %w", fs.ErrPermission)), domain.ErrPermissionDenied)
	assert.ErrorIs(t, classify(errors.New("failed to find the best driver that fits the constraints")), domain.ErrDeviceBusy)
}

func TestScreenTrackCarriesScreenStreamID(t *testing.T) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "display", "random")
	require.NoError(t, err)
	src := &countingCloser{}

	tr := newDeviceTrack(media.KindScreen, local, src)
	assert.Equal(t, media.ScreenStreamID, tr.Local().StreamID())
	assert.Equal(t, "display", tr.ID())

	require.NoError(t, tr.Stop())
	require.NoError(t, tr.Stop())
	assert.Equal(t, 1, src.n, "hardware must be released once")
}
