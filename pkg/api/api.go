package api

import (
	"encoding/hex"
	"time"

	"github.com/fako1024/bthome/pkg/beacon"
	"github.com/fako1024/bthome/pkg/bthome"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
)

// API denotes a REST API for a beacon
type API struct {
	beacon *beacon.Beacon
	router *fiber.App
}

// StatusResponse denotes the reply to a status request
type StatusResponse struct {
	DeviceName  string    `json:"device_name"`
	Cycles      uint64    `json:"cycles"`
	Skipped     uint64    `json:"skipped"`
	LastCycle   time.Time `json:"last_cycle"`
	LastPayload string    `json:"last_payload,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	PacketID    uint8     `json:"packet_id"`
	Uptime      string    `json:"uptime"`
}

// PayloadResponse denotes an advertising payload along with its decoded content
type PayloadResponse struct {
	Sequence      uint64               `json:"sequence,omitempty"`
	Payload       string               `json:"payload"`
	Length        int                  `json:"length"`
	Advertisement bthome.Advertisement `json:"advertisement"`
}

// New instantiates a new API
func New(b *beacon.Beacon, endpoint string) *API {

	api := newAPI(b)

	// Start to listen in goroutine
	go func() {
		if err := api.router.Listen(endpoint); err != nil {
			panic(err)
		}
	}()

	return api
}

// Shutdown stops the underlying server
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

////////////////////////////////////////////////////////////////////////////////

func newAPI(b *beacon.Beacon) *API {
	api := API{
		beacon: b,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			JSONEncoder:           jsoniter.Marshal,
			JSONDecoder:           jsoniter.Unmarshal,
		}),
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/payload", api.handlePayload())
	api.router.Get("/registry", api.handleRegistry())
	api.router.Post("/cycle", api.handleCycle())

	return &api
}

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		stats := api.beacon.Stats()
		return c.JSON(StatusResponse{
			DeviceName:  stats.DeviceName,
			Cycles:      stats.Cycles,
			Skipped:     stats.Skipped,
			LastCycle:   stats.LastCycle,
			LastPayload: hex.EncodeToString(stats.LastPayload),
			LastError:   stats.LastError,
			PacketID:    stats.PacketID,
			Uptime:      stats.Uptime.Round(time.Second).String(),
		})
	}
}

func (api *API) handlePayload() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		stats := api.beacon.Stats()
		if len(stats.LastPayload) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no payload has been advertised yet")
		}

		resp, err := api.payloadResponse(0, stats.LastPayload)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	}
}

func (api *API) handleRegistry() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.beacon.Registry().Rules())
	}
}

func (api *API) handleCycle() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		cycle, err := api.beacon.Cycle(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}

		resp, err := api.payloadResponse(cycle.Sequence, cycle.Payload)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	}
}

func (api *API) payloadResponse(seq uint64, payload []byte) (PayloadResponse, error) {
	adv, err := bthome.DecodeAdvertisement(payload, api.beacon.Registry())
	if err != nil {
		return PayloadResponse{}, fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return PayloadResponse{
		Sequence:      seq,
		Payload:       hex.EncodeToString(payload),
		Length:        len(payload),
		Advertisement: adv,
	}, nil
}
