// Package sos runs the emergency trigger sequence: physical alert, bounded
// location fix, message composition and native share with link fallback.
package sos

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/guardian/backend/internal/model/contact"
	"github.com/zhouzirui/guardian/backend/internal/model/location"
	"github.com/zhouzirui/guardian/backend/internal/outbound"
	"github.com/zhouzirui/guardian/backend/internal/platform"
)

const (
	DefaultFixTimeout   = 8 * time.Second
	DefaultShareTimeout = 5 * time.Second
	DefaultAlertTimeout = 2 * time.Second

	shareTitle         = "SOS"
	locationShareTitle = "My location"
	beepFrequencyHz    = 880
	beepDuration       = 400 * time.Millisecond
)

// VibratePattern alternates on and off periods.
var VibratePattern = []time.Duration{
	200 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	100 * time.Millisecond,
	400 * time.Millisecond,
}

// Locator is the part of the location manager the orchestrator needs.
type Locator interface {
	RequestSingleFix(ctx context.Context, timeout, maxAge time.Duration) (*location.Coordinates, error)
	LastKnown() *location.Coordinates
}

// Capabilities groups the optional device features used by the sequence.
// Any of them may be nil.
type Capabilities struct {
	Haptics   platform.Haptics
	Tone      platform.Tone
	Sharer    platform.Sharer
	Clipboard platform.Clipboard
}

// Config bounds each step of the sequence. Zero values fall back to defaults.
type Config struct {
	FixTimeout   time.Duration
	ShareTimeout time.Duration
	AlertTimeout time.Duration
}

// Run describes one invocation of the trigger sequence.
type Run struct {
	ID          string                `json:"id"`
	StartedAt   time.Time             `json:"startedAt"`
	FinishedAt  time.Time             `json:"finishedAt"`
	Coordinates *location.Coordinates `json:"coordinates,omitempty"`
	Shared      bool                  `json:"shared"`
	Message     string                `json:"message"`
	SMSTarget   string                `json:"smsTarget"`
	CallTarget  string                `json:"callTarget"`
}

// ShareMethod names the channel a location share went through.
type ShareMethod string

const (
	ShareNative    ShareMethod = "share"
	ShareClipboard ShareMethod = "clipboard"
	ShareNone      ShareMethod = "none"
)

// ShareResult reports the outcome of ShareLocation.
type ShareResult struct {
	Method ShareMethod `json:"method"`
	OK     bool        `json:"ok"`
	Text   string      `json:"text"`
}

// Orchestrator drives the SOS sequence.
type Orchestrator struct {
	locator Locator
	caps    Capabilities
	cfg     Config
	now     func() time.Time
}

// NewOrchestrator wires the sequence to a locator and the device capabilities.
func NewOrchestrator(locator Locator, caps Capabilities, cfg Config) *Orchestrator {
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = DefaultFixTimeout
	}
	if cfg.ShareTimeout <= 0 {
		cfg.ShareTimeout = DefaultShareTimeout
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = DefaultAlertTimeout
	}
	return &Orchestrator{locator: locator, caps: caps, cfg: cfg, now: time.Now}
}

// Trigger runs the sequence and always returns a Run. Cancelling ctx does not
// abort it; every step is bounded on its own.
func (o *Orchestrator) Trigger(ctx context.Context, contacts []contact.Contact) Run {
	ctx = context.WithoutCancel(ctx)
	run := Run{ID: uuid.NewString(), StartedAt: o.now().UTC()}
	log.Printf("[sos] trigger run=%s contacts=%d", run.ID, len(contacts))

	o.alert(ctx)

	run.Coordinates = o.locate(ctx, run.ID)
	run.Message = outbound.EmergencyMessage(run.Coordinates)
	run.SMSTarget = outbound.SMSTarget(contacts, run.Message)
	run.CallTarget = outbound.CallTarget(contacts)

	err := o.guard("share", func() error {
		if o.caps.Sharer == nil {
			return platform.ErrUnavailable
		}
		return bounded(ctx, o.cfg.ShareTimeout, func(ctx context.Context) error {
			return o.caps.Sharer.Share(ctx, platform.SharePayload{Title: shareTitle, Text: run.Message})
		})
	})
	if err != nil {
		log.Printf("[sos] run=%s share skipped, links remain as fallback: %v", run.ID, err)
	} else {
		run.Shared = true
	}

	run.FinishedAt = o.now().UTC()
	log.Printf("[sos] run=%s finished shared=%t located=%t", run.ID, run.Shared, run.Coordinates != nil)
	return run
}

// CopyLocation writes the current location summary to the clipboard.
func (o *Orchestrator) CopyLocation(ctx context.Context) bool {
	summary := outbound.LocationSummary(o.lastKnown())
	err := o.guard("copy", func() error {
		return o.writeClipboard(ctx, summary)
	})
	if err != nil {
		log.Printf("[sos] copy location failed: %v", err)
		return false
	}
	return true
}

// ShareLocation opens the share sheet with the location summary and falls back
// to the clipboard when the device cannot share natively.
func (o *Orchestrator) ShareLocation(ctx context.Context) ShareResult {
	summary := outbound.ShareText(o.lastKnown())

	err := o.guard("share location", func() error {
		if o.caps.Sharer == nil {
			return platform.ErrShareUnsupported
		}
		return bounded(ctx, o.cfg.ShareTimeout, func(ctx context.Context) error {
			return o.caps.Sharer.Share(ctx, platform.SharePayload{Title: locationShareTitle, Text: summary})
		})
	})
	if err == nil {
		return ShareResult{Method: ShareNative, OK: true, Text: summary}
	}
	if !errors.Is(err, platform.ErrShareUnsupported) && !errors.Is(err, platform.ErrUnavailable) {
		log.Printf("[sos] share location failed: %v", err)
		return ShareResult{Method: ShareNative, OK: false, Text: summary}
	}

	err = o.guard("clipboard", func() error {
		return o.writeClipboard(ctx, summary)
	})
	if err != nil {
		log.Printf("[sos] clipboard fallback failed: %v", err)
		return ShareResult{Method: ShareNone, OK: false, Text: summary}
	}
	return ShareResult{Method: ShareClipboard, OK: true, Text: summary}
}

func (o *Orchestrator) alert(ctx context.Context) {
	if h := o.caps.Haptics; h != nil {
		go o.fireAndForget(ctx, "vibrate", func(ctx context.Context) error {
			return h.Vibrate(ctx, VibratePattern)
		})
	}
	if t := o.caps.Tone; t != nil {
		go o.fireAndForget(ctx, "beep", func(ctx context.Context) error {
			return t.Beep(ctx, beepFrequencyHz, beepDuration)
		})
	}
}

func (o *Orchestrator) fireAndForget(ctx context.Context, name string, fn func(context.Context) error) {
	err := o.guard(name, func() error {
		return bounded(ctx, o.cfg.AlertTimeout, fn)
	})
	if err != nil && !errors.Is(err, platform.ErrUnavailable) {
		log.Printf("[sos] %s: %v", name, err)
	}
}

func (o *Orchestrator) locate(ctx context.Context, runID string) *location.Coordinates {
	if o.locator == nil {
		return nil
	}
	var coords *location.Coordinates
	err := o.guard("locate", func() error {
		c, err := o.locator.RequestSingleFix(ctx, o.cfg.FixTimeout, 0)
		if err != nil {
			return err
		}
		coords = c
		return nil
	})
	if err == nil && coords != nil {
		return coords
	}
	log.Printf("[sos] run=%s fresh fix failed, using last known: %v", runID, err)
	return o.lastKnown()
}

func (o *Orchestrator) lastKnown() *location.Coordinates {
	if o.locator == nil {
		return nil
	}
	return o.locator.LastKnown()
}

func (o *Orchestrator) writeClipboard(ctx context.Context, text string) error {
	if o.caps.Clipboard == nil {
		return platform.ErrUnavailable
	}
	return bounded(ctx, o.cfg.ShareTimeout, func(ctx context.Context) error {
		return o.caps.Clipboard.WriteText(ctx, text)
	})
}

// guard turns a panic inside a step into an error.
func (o *Orchestrator) guard(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()
	return fn()
}

// bounded runs fn and returns when it finishes or timeout elapses, whichever
// comes first. fn receives a context that expires with the bound.
func bounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
