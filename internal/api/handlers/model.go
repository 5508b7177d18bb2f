package handlers

import (
	"fmt"
	"net/http"

	"github.com/cloo-solutions/lightrag/internal/api"
	"github.com/cloo-solutions/lightrag/internal/domain"
)

// ModelRegistry switches the generation provider used by new queries.
type ModelRegistry interface {
	Set(name string) error
	Current() string
}

type ModelHandler struct {
	registry ModelRegistry
}

func NewModelHandler(registry ModelRegistry) *ModelHandler {
	return &ModelHandler{registry: registry}
}

type SetModelRequest struct {
	Provider string `json:"provider" validate:"required,oneof=ollama openai"`
}

type SelectModelRequest struct {
	ModelProvider string `json:"model_provider" validate:"required,oneof=ollama openai"`
}

type ModelResponse struct {
	Provider string `json:"provider"`
}

type SetModelResponse struct {
	Success bool `json:"success"`
}

func (h *ModelHandler) Get(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, ModelResponse{Provider: h.registry.Current()})
}

// Set handles /set_model and answers {"success": true}.
func (h *ModelHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req SetModelRequest
	if err := decodeRequest(r, &req, "Invalid provider"); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.switchTo(req.Provider, "Invalid provider"); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, SetModelResponse{Success: true})
}

// Select handles /select_model and answers with a confirmation message.
func (h *ModelHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req SelectModelRequest
	if err := decodeRequest(r, &req, "Invalid model provider"); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.switchTo(req.ModelProvider, "Invalid model provider"); err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, fmt.Sprintf("Model switched to %s.", req.ModelProvider))
}

func (h *ModelHandler) switchTo(provider, invalidMessage string) error {
	err := h.registry.Set(provider)
	if domain.HasCode(err, domain.ErrCodeValidation) {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, invalidMessage, err)
	}
	return err
}
