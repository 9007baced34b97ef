package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// DispatchRunner runs one planning pass over due enrollments.
type DispatchRunner interface {
	ScanDue(ctx context.Context) (int, error)
}

type DispatchHandler struct {
	runner DispatchRunner
}

func NewDispatchHandler(runner DispatchRunner) (*DispatchHandler, error) {
	if runner == nil {
		return nil, fmt.Errorf("dispatch runner is required")
	}
	return &DispatchHandler{runner: runner}, nil
}

func RegisterDispatchRoutes(router fiber.Router, runner DispatchRunner) error {
	h, err := NewDispatchHandler(runner)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/dispatch/due", h.RunDue)

	return nil
}

// RunDue is the entrypoint for an external scheduler that drives planning
// explicitly instead of relying on the internal ticker.
func (h *DispatchHandler) RunDue(c *fiber.Ctx) error {
	dispatched, err := h.runner.ScanDue(c.Context())
	if err != nil {
		return fmt.Errorf("dispatch scan failed: %w", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"dispatched": dispatched,
	})
}
