package http

import (
	"github.com/gofiber/fiber/v2"

	"switch_server/core/domain"
	"switch_server/core/port/in"
	"switch_server/core/service/eval"
	"switch_server/pkg/apperr"
	"switch_server/pkg/logger"
)

// SwitchHandler manages switch rules and exposes their evaluated state.
type SwitchHandler struct {
	registry  *eval.Registry
	refresher in.FetchRequester
}

func NewSwitchHandler(registry *eval.Registry, refresher in.FetchRequester) *SwitchHandler {
	return &SwitchHandler{registry: registry, refresher: refresher}
}

func (h *SwitchHandler) Register(app fiber.Router) {
	switches := app.Group("/switches")
	switches.Get("/", h.List)
	switches.Get("/:id", h.Get)
	switches.Put("/:id", h.Upsert)
	switches.Delete("/:id", h.Delete)
	switches.Get("/:id/state", h.State)
	switches.Post("/:id/refresh", h.Refresh)
}

// switchRuleRequest is the writable subset of a rule. Identity comes from
// the path, timestamps from the registry.
type switchRuleRequest struct {
	Provider           domain.Provider `json:"provider"`
	IncludeWords       []string        `json:"include_words"`
	ExcludeWords       []string        `json:"exclude_words"`
	MinutesBeforeStart int             `json:"minutes_before_start"`
	MinutesAfterEnd    int             `json:"minutes_after_end"`
	OnlyBusy           bool            `json:"only_busy"`
	AllowAllDay        bool            `json:"allow_all_day"`
	AllowPrivate       bool            `json:"allow_private"`
}

// List returns all configured switches.
func (h *SwitchHandler) List(c *fiber.Ctx) error {
	return SuccessResponse(c, fiber.Map{"switches": h.registry.Rules()})
}

// Get returns one switch rule.
func (h *SwitchHandler) Get(c *fiber.Ctx) error {
	rule, ok := h.registry.Rule(c.Params("id"))
	if !ok {
		return AppErrorResponse(c, apperr.NotFound("switch"))
	}
	return SuccessResponse(c, rule)
}

// Upsert creates or replaces a switch rule. The next evaluation cycle picks
// the change up; state is replaced wholesale at that point.
func (h *SwitchHandler) Upsert(c *fiber.Ctx) error {
	var req switchRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("invalid request body"))
	}

	rule := domain.SwitchRule{
		SwitchID:           c.Params("id"),
		Provider:           req.Provider,
		IncludeWords:       req.IncludeWords,
		ExcludeWords:       req.ExcludeWords,
		MinutesBeforeStart: req.MinutesBeforeStart,
		MinutesAfterEnd:    req.MinutesAfterEnd,
		OnlyBusy:           req.OnlyBusy,
		AllowAllDay:        req.AllowAllDay,
		AllowPrivate:       req.AllowPrivate,
	}

	if err := h.registry.UpsertRule(c.Context(), rule); err != nil {
		logger.WithError(err).WithSwitch(rule.SwitchID).Error("[Switch.Upsert] failed")
		return AppErrorResponse(c, err)
	}

	stored, _ := h.registry.Rule(rule.SwitchID)
	logger.Info("[Switch.Upsert] Switch %s saved (provider=%s)", rule.SwitchID, rule.Provider)
	return SuccessResponse(c, stored)
}

// Delete removes a switch and its state.
func (h *SwitchHandler) Delete(c *fiber.Ctx) error {
	switchID := c.Params("id")
	if err := h.registry.RemoveRule(c.Context(), switchID); err != nil {
		return AppErrorResponse(c, err)
	}
	logger.Info("[Switch.Delete] Switch %s removed", switchID)
	return SuccessResponse(c, fiber.Map{"switch_id": switchID, "deleted": true})
}

// State returns the last evaluated state for a switch. A switch that has
// not been evaluated yet reports inactive with no timestamp.
func (h *SwitchHandler) State(c *fiber.Ctx) error {
	switchID := c.Params("id")
	if _, ok := h.registry.Rule(switchID); !ok {
		return AppErrorResponse(c, apperr.NotFound("switch"))
	}

	state, ok := h.registry.State(switchID)
	if !ok {
		state = domain.SwitchState{SwitchID: switchID}
	}
	return SuccessResponse(c, state)
}

// Refresh triggers an immediate fetch-and-evaluate for one switch, then
// returns the resulting state. Rapid repeats coalesce.
func (h *SwitchHandler) Refresh(c *fiber.Ctx) error {
	switchID := c.Params("id")
	if err := h.refresher.RequestFetch(c.Context(), switchID, "manual"); err != nil {
		return AppErrorResponse(c, err)
	}

	state, ok := h.registry.State(switchID)
	if !ok {
		state = domain.SwitchState{SwitchID: switchID}
	}
	return SuccessResponse(c, state)
}
