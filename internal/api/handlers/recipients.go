package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
	recipientsvc "github.com/acme/voice-campaign-core/internal/service/recipient"
)

type recipientRequest struct {
	PhoneNumber string            `json:"phone_number"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	Company     string            `json:"company"`
	Variables   map[string]string `json:"variables"`
}

type recipientResponse struct {
	ID           uuid.UUID              `json:"id"`
	CampaignID   uuid.UUID              `json:"campaign_id"`
	PhoneNumber  string                 `json:"phone_number"`
	Name         string                 `json:"name,omitempty"`
	Email        string                 `json:"email,omitempty"`
	Company      string                 `json:"company,omitempty"`
	Variables    map[string]string      `json:"variables,omitempty"`
	Status       domain.RecipientStatus `json:"status"`
	Successful   bool                   `json:"successful"`
	VendorCallID string                 `json:"vendor_call_id,omitempty"`
	LastError    string                 `json:"last_error,omitempty"`
	Attempts     int                    `json:"attempts"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

type listRecipientsResponse struct {
	Recipients []recipientResponse `json:"recipients"`
}

// importRecipients accepts a JSON array of flat objects or a text/csv body. Each row is
// mapped by header name, so spreadsheet exports can be posted as-is.
func (h *HandlerSet) importRecipients(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}

	var rows []map[string]string
	if strings.HasPrefix(strings.ToLower(ctx.Get(fiber.HeaderContentType)), "text/csv") {
		rows, err = recipientsvc.ParseCSV(bytes.NewReader(ctx.Body()))
		if err != nil {
			return translateError(err)
		}
	} else {
		rows, err = decodeRows(ctx.Body())
		if err != nil {
			return badRequest("body must be a JSON array of recipient objects")
		}
	}

	result, err := h.deps.Recipients.Import(ctx.UserContext(), id, rows)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(result)
}

func (h *HandlerSet) addRecipient(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	var req recipientRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}

	r, err := h.deps.Recipients.Add(ctx.UserContext(), id, recipientsvc.Input{
		PhoneNumber: req.PhoneNumber,
		Name:        req.Name,
		Email:       req.Email,
		Company:     req.Company,
		Variables:   req.Variables,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toRecipientResponse(r))
}

func (h *HandlerSet) listRecipients(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	offset, _ := strconv.Atoi(ctx.Query("offset", "0"))

	recipients, err := h.deps.Recipients.List(ctx.UserContext(), id, domain.RecipientStatus(ctx.Query("status")), limit, offset)
	if err != nil {
		return translateError(err)
	}

	resp := listRecipientsResponse{Recipients: make([]recipientResponse, 0, len(recipients))}
	for _, r := range recipients {
		resp.Recipients = append(resp.Recipients, toRecipientResponse(r))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) deleteRecipients(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}

	if raw := ctx.Query("recipientId"); raw != "" {
		recipientID, err := uuid.Parse(raw)
		if err != nil {
			return badRequest("invalid recipientId")
		}
		if err := h.deps.Recipients.Remove(ctx.UserContext(), id, recipientID); err != nil {
			return translateError(err)
		}
		return ctx.Status(http.StatusOK).JSON(fiber.Map{"deleted": 1})
	}

	if ctx.QueryBool("deleteAll") {
		n, err := h.deps.Recipients.RemoveAll(ctx.UserContext(), id)
		if err != nil {
			return translateError(err)
		}
		return ctx.Status(http.StatusOK).JSON(fiber.Map{"deleted": n})
	}

	return badRequest("recipientId or deleteAll=true is required")
}

// decodeRows accepts values of any JSON scalar type and stringifies them.
func decodeRows(body []byte) ([]map[string]string, error) {
	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(raw))
	for _, obj := range raw {
		row := make(map[string]string, len(obj))
		for k, v := range obj {
			switch val := v.(type) {
			case nil:
			case string:
				row[k] = val
			case float64:
				row[k] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				row[k] = strconv.FormatBool(val)
			default:
				b, _ := json.Marshal(val)
				row[k] = string(b)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func toRecipientResponse(r *domain.Recipient) recipientResponse {
	return recipientResponse{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		PhoneNumber:  r.PhoneNumber,
		Name:         r.Name,
		Email:        r.Email,
		Company:      r.Company,
		Variables:    r.Variables,
		Status:       r.Status,
		Successful:   r.Successful,
		VendorCallID: r.VendorCallID,
		LastError:    r.LastError,
		Attempts:     r.Attempts,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
