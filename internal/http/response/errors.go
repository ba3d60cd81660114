package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docqa-backend/internal/platform/apierr"
)

// RespondAPIError unwraps *apierr.Error for the status and code; anything
// else surfaces as a 500 internal_error.
func RespondAPIError(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		status := ae.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := ae.Code
		if code == "" {
			code = "internal_error"
		}
		RespondError(c, status, code, ae)
		return
	}
	RespondError(c, http.StatusInternalServerError, "internal_error", err)
}
