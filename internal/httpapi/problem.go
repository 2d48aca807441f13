package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kandev/acp-gateway/internal/common/errors"
)

// problemBaseURN is the prefix used to build the stable `type` URN on every
// RFC-7807 problem document this surface emits.
const problemBaseURN = "urn:acp-gateway:problem"

// problem is an RFC-7807 problem+json document.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeProblem(c *gin.Context, status int, kindSlug, title, detail string) {
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(status, problem{
		Type:   fmt.Sprintf("%s/%s", problemBaseURN, kindSlug),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// writeAppError renders an *errors.AppError as an RFC-7807 document using
// its Kind for both the HTTP status and the problem type slug.
func writeAppError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		writeProblem(c, http.StatusInternalServerError, "internal", "Internal Server Error", err.Error())
		return
	}
	writeProblem(c, appErr.HTTPStatus(), string(appErr.Kind), appErr.Kind.Title(), appErr.Msg)
}
