package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
)

type Response struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Number     string      `json:"number,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func logSuccess(c *fiber.Ctx, code int, message string) {
	statusMessage := http.StatusText(code)

	if statusMessage == message || c.OriginalURL() == BaseURL {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, statusMessage))
	} else {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, message))
	}
}

func logError(c *fiber.Ctx, code int, message string) {
	statusMessage := http.StatusText(code)

	if statusMessage == message {
		log.Print(c).Error(fmt.Sprintf("%d %v", code, statusMessage))
	} else {
		log.Print(c).Error(fmt.Sprintf("%d %v", code, message))
	}
}

func success(c *fiber.Ctx, response Response) error {
	response.Success = true
	if response.StatusCode == 0 {
		response.StatusCode = http.StatusOK
	}
	if strings.TrimSpace(response.Message) == "" {
		response.Message = http.StatusText(response.StatusCode)
	}

	logSuccess(c, response.StatusCode, response.Message)
	return c.Status(response.StatusCode).JSON(response)
}

func failure(c *fiber.Ctx, code int, message string) error {
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(code)
	}
	response := Response{
		Success:    false,
		StatusCode: code,
		Message:    message,
		Error:      http.StatusText(code),
	}

	logError(c, response.StatusCode, response.Message)
	return c.Status(response.StatusCode).JSON(response)
}

func ResponseSuccess(c *fiber.Ctx, message string) error {
	return success(c, Response{Message: message})
}

func ResponseSuccessWithData(c *fiber.Ctx, message string, data interface{}) error {
	return success(c, Response{Message: message, Data: data})
}

// ResponseSent answers a delivered outbound message, echoing the caller's number.
func ResponseSent(c *fiber.Ctx, message string, number string, data interface{}) error {
	return success(c, Response{Message: message, Number: number, Data: data})
}

// ResponseImage writes raw image bytes with the given content type.
func ResponseImage(c *fiber.Ctx, contentType string, image []byte) error {
	logSuccess(c, http.StatusOK, http.StatusText(http.StatusOK))
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(http.StatusOK).Send(image)
}

func ResponseNoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}

func ResponseNotFound(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusNotFound, message)
}

func ResponseUnauthorized(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusUnauthorized, message)
}

func ResponseBadRequest(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusBadRequest, message)
}

func ResponseTooManyRequests(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusTooManyRequests, message)
}

func ResponseInternalError(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusInternalServerError, message)
}
