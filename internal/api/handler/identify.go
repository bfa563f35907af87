package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/snapfind/internal/api/response"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

const defaultMaxImageBytes = 10 << 20

// Identifier is satisfied by vision.Orchestrator.
type Identifier interface {
	Analyse(ctx context.Context, image []byte, mode, hint string) (models.ProviderResult, []models.ProviderResult, error)
}

// IdentifyOptions configures the upload limits and default mode.
type IdentifyOptions struct {
	DefaultMode   string
	MaxImageBytes int64
}

type identifyResponse struct {
	Mode         string                  `json:"mode"`
	Winner       models.ProviderResult   `json:"winner"`
	Results      []models.ProviderResult `json:"results"`
	TotalCostUSD float64                 `json:"total_cost_usd"`
	Query        models.NormalizedQuery  `json:"query"`
}

// NewIdentifyHandler returns an http.HandlerFunc for POST /api/v1/identify.
// The body is multipart with an "image" file plus optional "hint" and "mode".
func NewIdentifyHandler(id Identifier, opts IdentifyOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		up, ok := readUpload(w, r, opts)
		if !ok {
			return
		}

		winner, all, err := id.Analyse(r.Context(), up.image, up.mode, up.hint)
		if err != nil {
			writeError(w, err)
			return
		}

		response.JSON(w, newIdentifyResponse(up.mode, winner, all))
	}
}

func newIdentifyResponse(mode string, winner models.ProviderResult, all []models.ProviderResult) identifyResponse {
	var total float64
	for _, r := range all {
		total += r.Usage().CostUSD
	}
	return identifyResponse{
		Mode:         mode,
		Winner:       winner,
		Results:      all,
		TotalCostUSD: total,
		Query:        winner.ToQuery(),
	}
}

type upload struct {
	image []byte
	mode  string
	hint  string
}

// readUpload parses the multipart image form, writing a 400 on failure.
func readUpload(w http.ResponseWriter, r *http.Request, opts IdentifyOptions) (upload, bool) {
	limit := opts.MaxImageBytes
	if limit <= 0 {
		limit = defaultMaxImageBytes
	}
	// Leave room for the other form fields and multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE",
				"Image exceeds the upload limit", map[string]any{"max_bytes": limit})
			return upload{}, false
		}
		badRequest(w, "Body must be multipart/form-data with an image file")
		return upload{}, false
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		badRequest(w, "image is required")
		return upload{}, false
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		badRequest(w, "Failed to read image")
		return upload{}, false
	}
	if len(image) == 0 {
		badRequest(w, "image is empty")
		return upload{}, false
	}
	if int64(len(image)) > limit {
		response.Error(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE",
			"Image exceeds the upload limit", map[string]any{"max_bytes": limit})
		return upload{}, false
	}

	mode := strings.TrimSpace(r.FormValue("mode"))
	if mode == "" {
		mode = opts.DefaultMode
	}
	if mode == "" {
		mode = "best"
	}

	return upload{
		image: image,
		mode:  mode,
		hint:  strings.TrimSpace(r.FormValue("hint")),
	}, true
}
