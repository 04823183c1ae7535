// Package outbound turns contacts and coordinates into the links and message
// bodies handed to the dialer, the SMS composer, the share sheet and the clipboard.
// Everything here is pure.
package outbound

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/zhouzirui/guardian/backend/internal/model/contact"
	"github.com/zhouzirui/guardian/backend/internal/model/location"
)

const (
	mapsBaseURL = "https://maps.google.com/?q="

	// NotAvailable is the summary used before the first fix arrives.
	NotAvailable = "Location not available yet."
	// ShareNotAvailable is the live-location share text before the first fix.
	ShareNotAvailable = "My location is not available yet."
	// EmergencyPrefix marks every SOS message body.
	EmergencyPrefix = "EMERGENCY: I need help. "
	// TestMessage confirms a person as an emergency contact.
	TestMessage = "This is a test message from my safety app to confirm you as an emergency contact."
)

// MapLink returns a map viewer URL for the fix, or "" when coords is nil.
func MapLink(coords *location.Coordinates) string {
	if coords == nil {
		return ""
	}
	return mapsBaseURL + formatFull(coords.Latitude) + "," + formatFull(coords.Longitude)
}

// LocationSummary is the human readable location line shared with contacts.
func LocationSummary(coords *location.Coordinates) string {
	if coords == nil {
		return NotAvailable
	}

	var b strings.Builder
	fmt.Fprintf(&b, "My live location: %.5f, %.5f", coords.Latitude, coords.Longitude)
	if coords.Accuracy != nil && *coords.Accuracy > 0 {
		fmt.Fprintf(&b, " (±%dm)", int64(math.Round(*coords.Accuracy)))
	}
	b.WriteString("\nMap: ")
	b.WriteString(MapLink(coords))
	return b.String()
}

// ShareText is the text offered by the live-location share button.
func ShareText(coords *location.Coordinates) string {
	if coords == nil {
		return ShareNotAvailable
	}
	return LocationSummary(coords)
}

// EmergencyMessage is the body sent when SOS is triggered.
func EmergencyMessage(coords *location.Coordinates) string {
	return EmergencyPrefix + LocationSummary(coords)
}

// SMSTarget addresses every contact in one sms: link.
func SMSTarget(contacts []contact.Contact, body string) string {
	phones := make([]string, 0, len(contacts))
	for _, c := range contacts {
		phones = append(phones, c.Phone)
	}
	return "sms:" + strings.Join(phones, ",") + "?&body=" + EncodeURIComponent(body)
}

// CallTarget dials the first contact. With no contacts it returns a bare "tel:".
func CallTarget(contacts []contact.Contact) string {
	if len(contacts) == 0 {
		return "tel:"
	}
	return "tel:" + contacts[0].Phone
}

// Details lists the live-location readings shown next to the map link.
type Details struct {
	Position    string `json:"position"`
	SpeedKmh    string `json:"speed"`
	AltitudeM   string `json:"altitude"`
	MapLink     string `json:"mapLink"`
	HasPosition bool   `json:"hasPosition"`
}

// Describe formats the optional readings. Missing readings render as "—".
func Describe(coords *location.Coordinates) Details {
	if coords == nil {
		return Details{Position: "No location yet. Start tracking to get updates.", SpeedKmh: "—", AltitudeM: "—"}
	}

	d := Details{
		Position:    fmt.Sprintf("%.5f, %.5f", coords.Latitude, coords.Longitude),
		SpeedKmh:    "—",
		AltitudeM:   "—",
		MapLink:     MapLink(coords),
		HasPosition: true,
	}
	if coords.Accuracy != nil && *coords.Accuracy > 0 {
		d.Position += fmt.Sprintf(" ±%dm", int64(math.Round(*coords.Accuracy)))
	}
	if coords.Speed != nil {
		d.SpeedKmh = fmt.Sprintf("%.1f km/h", *coords.Speed*3.6)
	}
	if coords.Altitude != nil {
		d.AltitudeM = fmt.Sprintf("%.1f m", *coords.Altitude)
	}
	return d
}

// EncodeURIComponent escapes s the way browsers escape a URI component:
// spaces become %20 and !'()* stay literal.
func EncodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	return componentReplacer.Replace(escaped)
}

var componentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func formatFull(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
