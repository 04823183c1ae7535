// Package platform declares the device capabilities the safety core depends on.
//
// Every capability is optional. Callers treat a nil implementation and
// ErrUnavailable the same way: the feature is skipped and the flow continues.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/guardian/backend/internal/model/location"
)

var (
	// ErrUnavailable reports that the capability is absent on this device.
	ErrUnavailable = location.ErrUnavailable
	// ErrShareUnsupported reports that the device has no native share sheet.
	ErrShareUnsupported = errors.New("native share unsupported")
)

// WatchID identifies a platform position subscription.
type WatchID string

// Geolocation is the device position service.
type Geolocation interface {
	// CurrentPosition returns one sample. A cached sample no older than maxAge may be
	// returned; maxAge of zero forces a fresh reading. Implementations must honour ctx.
	CurrentPosition(ctx context.Context, maxAge time.Duration) (location.Coordinates, error)
	// Watch delivers samples until ClearWatch is called.
	Watch(onUpdate func(location.Coordinates), onError func(error)) (WatchID, error)
	ClearWatch(id WatchID)
}

// Haptics drives the vibration motor. Pattern alternates on/off durations.
type Haptics interface {
	Vibrate(ctx context.Context, pattern []time.Duration) error
}

// Tone plays a short audible beep.
type Tone interface {
	Beep(ctx context.Context, frequencyHz float64, duration time.Duration) error
}

// Clipboard writes plain text to the device clipboard.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// SharePayload is handed to the native share sheet.
type SharePayload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Sharer opens the native share sheet.
type Sharer interface {
	Share(ctx context.Context, payload SharePayload) error
}

// Recognizer turns one recorded utterance into text.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, format, language string) (string, error)
}
