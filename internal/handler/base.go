package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
)

// ContextIdentity is the gin context key the auth middleware stores the
// caller identity under.
const ContextIdentity = "identity"

// IdentityFrom returns the authenticated caller. A request that bypassed
// authentication gets an identity without capabilities.
func IdentityFrom(c *gin.Context) model.Identity {
	if v, ok := c.Get(ContextIdentity); ok {
		if id, ok := v.(model.Identity); ok {
			return id
		}
	}
	return model.Identity{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// Fail hands err to the error middleware and stops the chain.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// BindJSON decodes and validates the body, turning binding failures into
// InvalidInput errors.
func BindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return BindError(err)
	}
	return nil
}

func BindQuery(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindQuery(dst); err != nil {
		return BindError(err)
	}
	return nil
}

func BindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.InvalidInput("malformed request: " + err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperrors.InvalidInput(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "bloodtype":
		return fmt.Sprintf("%s must be one of A+, A-, B+, B-, AB+, AB-, O+, O-, Unknown", fe.Field())
	case "unitstatus":
		return fmt.Sprintf("%s must be one of available, quarantined, used, expired", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "min", "max", "gte", "lte":
		return fmt.Sprintf("%s is out of range (%s %s)", fe.Field(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
