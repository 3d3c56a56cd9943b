package server

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"tidbyt.dev/fleetrt"
)

const ContentTypeProtobuf = "application/x-protobuf"

// Server exposes the service's feeds over HTTP, as protobuf under
// /gtfs-rt/ and as JSON at the top level.
type Server struct {
	App *fiber.App

	service *fleetrt.Service
}

// "vehicle_positions" is served at "vehicle-positions".
func feedPath(name string) string {
	return "/" + strings.ReplaceAll(name, "_", "-")
}

func New(service *fleetrt.Service) *Server {
	s := &Server{
		App: fiber.New(fiber.Config{
			AppName:               "fleetrt",
			DisableStartupMessage: true,
		}),
		service: service,
	}

	s.App.Use(NewLogger())

	s.App.Get("/", s.banner)
	s.App.Get("/healthz", s.health)

	gtfsrt := s.App.Group("/gtfs-rt")
	for _, feed := range service.Feeds() {
		gtfsrt.Get(feedPath(feed.Name), protobufHandler(feed))
		s.App.Get(feedPath(feed.Name), jsonHandler(feed))
	}

	return s
}

func protobufHandler(feed *fleetrt.Feed) fiber.Handler {
	return func(c *fiber.Ctx) error {
		data, err := feed.Make().Bytes()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "encoding feed: "+err.Error())
		}
		c.Set(fiber.HeaderContentType, ContentTypeProtobuf)
		return c.Send(data)
	}
}

func jsonHandler(feed *fleetrt.Feed) fiber.Handler {
	return func(c *fiber.Ctx) error {
		data, err := feed.Make().JSON()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "encoding feed: "+err.Error())
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(data)
	}
}

func (s *Server) banner(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "Traccar to GTFS-RT is running!",
	})
}

func (s *Server) health(c *fiber.Ctx) error {
	schedule := s.service.Schedule
	info := fiber.Map{
		"status":  "ok",
		"devices": s.service.Devices.Len(),
	}
	if schedule != nil {
		info["schedule"] = fiber.Map{
			"url":      schedule.Metadata.URL,
			"hash":     schedule.Metadata.Hash,
			"timezone": schedule.Location().String(),
			"routes":   len(schedule.Routes()),
		}
	}
	return c.JSON(info)
}

func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.App.ShutdownWithContext(ctx)
}
