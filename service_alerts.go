package fleetrt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"tidbyt.dev/fleetrt/model"
)

const (
	DefaultAlertWindow      = time.Hour
	DefaultAlertLanguage    = "es"
	DefaultAlertHeader      = "Alerta de servicio"
	DefaultAlertDescription = "Vehículo fuera de geocerca en ruta %s"
)

// Builds detour alerts for vehicles that left their route's geofence.
type ServiceAlerts struct {
	Window   time.Duration
	Language string
	Header   string

	// May contain a %s verb, replaced by the route ID.
	Description string
}

func NewServiceAlerts() *ServiceAlerts {
	return &ServiceAlerts{
		Window:      DefaultAlertWindow,
		Language:    DefaultAlertLanguage,
		Header:      DefaultAlertHeader,
		Description: DefaultAlertDescription,
	}
}

func (b *ServiceAlerts) translated(text string) *gtfsproto.TranslatedString {
	return &gtfsproto.TranslatedString{
		Translation: []*gtfsproto.TranslatedString_Translation{{
			Text:     proto.String(text),
			Language: proto.String(b.Language),
		}},
	}
}

func (b *ServiceAlerts) description(routeID string) string {
	if strings.Contains(b.Description, "%s") {
		return fmt.Sprintf(b.Description, routeID)
	}
	return b.Description
}

// Traccar event ids when present. Events without one are keyed by
// device and event time instead, so ids stay unique within a feed.
func alertID(device model.Device, event *model.Event, start time.Time) string {
	if event.ID != 0 {
		return "alert-" + strconv.FormatInt(event.ID, 10)
	}
	return fmt.Sprintf("alert-%d-%d", device.ID, start.Unix())
}

func (b *ServiceAlerts) Entity(device model.Device) (*gtfsproto.FeedEntity, error) {
	event := device.Event
	if event == nil || !event.IsGeofenceExit() {
		return nil, errIneligible
	}

	start, err := event.Time()
	if err != nil {
		return nil, fmt.Errorf("event time: %w", err)
	}
	end := start.Add(b.Window)

	cause := gtfsproto.Alert_UNKNOWN_CAUSE
	effect := gtfsproto.Alert_DETOUR

	return &gtfsproto.FeedEntity{
		Id: proto.String(alertID(device, event, start)),
		Alert: &gtfsproto.Alert{
			ActivePeriod: []*gtfsproto.TimeRange{{
				Start: proto.Uint64(uint64(start.Unix())),
				End:   proto.Uint64(uint64(end.Unix())),
			}},
			InformedEntity: []*gtfsproto.EntitySelector{{
				RouteId: proto.String(device.RouteID),
			}},
			Cause:           &cause,
			Effect:          &effect,
			HeaderText:      b.translated(b.Header),
			DescriptionText: b.translated(b.description(device.RouteID)),
		},
	}, nil
}
