package controller

import (
	"ai-pagechat-be/internal/dto"
	"ai-pagechat-be/internal/pkg/serverutils"
	"ai-pagechat-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	CreateSession(ctx *fiber.Ctx) error
	RemoveSession(ctx *fiber.Ctx) error
	GetHistory(ctx *fiber.Ctx) error
	Ask(ctx *fiber.Ctx) error
	NavigateCitation(ctx *fiber.Ctx) error
	ClearHighlights(ctx *fiber.Ctx) error
}

type chatController struct {
	service service.IChatService
}

func NewChatController(service service.IChatService) IChatController {
	return &chatController{service: service}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat/v1")
	h.Post("/session", c.CreateSession)
	h.Delete("/session/:tabId", c.RemoveSession)
	h.Get("/session/:tabId/history", c.GetHistory)
	h.Post("/ask", c.Ask)
	h.Post("/session/:tabId/citations/navigate", c.NavigateCitation)
	h.Post("/session/:tabId/highlights/clear", c.ClearHighlights)
}

func (c *chatController) CreateSession(ctx *fiber.Ctx) error {
	var req dto.CreateSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res := c.service.GetOrCreateSession(ctx.Context(), req.TabId)
	return ctx.JSON(serverutils.SuccessResponse("Success create session", res))
}

func (c *chatController) RemoveSession(ctx *fiber.Ctx) error {
	tabID := ctx.Params("tabId")

	c.service.RemoveSession(ctx.Context(), tabID)
	return ctx.JSON(serverutils.SuccessResponse[any]("Success remove session", nil))
}

func (c *chatController) GetHistory(ctx *fiber.Ctx) error {
	tabID := ctx.Params("tabId")

	res, err := c.service.GetHistory(ctx.Context(), tabID)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get history", res))
}

func (c *chatController) Ask(ctx *fiber.Ctx) error {
	var req dto.AskRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Ask(ctx.Context(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success ask", res))
}

func (c *chatController) NavigateCitation(ctx *fiber.Ctx) error {
	tabID := ctx.Params("tabId")

	var req dto.NavigateCitationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.NavigateCitation(ctx.Context(), tabID, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success navigate citation", res))
}

func (c *chatController) ClearHighlights(ctx *fiber.Ctx) error {
	tabID := ctx.Params("tabId")

	res, err := c.service.ClearHighlights(ctx.Context(), tabID)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success clear highlights", res))
}
