package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/authrelay/authrelay/internal/autherrors"
)

// ErrorBody is the JSON shape of the one response the proxy manufactures
// itself: the upstream was unreachable at the transport level.
type ErrorBody struct {
	Error           string          `json:"error"`
	Code            string          `json:"code"`
	Troubleshooting Troubleshooting `json:"troubleshooting"`
}

// Troubleshooting carries ordered recovery steps and a documentation link.
type Troubleshooting struct {
	Steps         []string `json:"steps"`
	Documentation string   `json:"documentation"`
}

// writeSynthetic emits the structured gateway error. Timeouts map to 504,
// everything else in the unreachable family to 502.
func (h *Handler) writeSynthetic(w http.ResponseWriter, ae *autherrors.AuthError) {
	status := http.StatusBadGateway
	if ae.Code == autherrors.CodeTimeout {
		status = http.StatusGatewayTimeout
	}

	body := ErrorBody{
		Error: ae.Message,
		Code:  ae.Code,
		Troubleshooting: Troubleshooting{
			Steps:         ae.Steps,
			Documentation: ae.DocURL,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
