package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"cashdrawer/internal/apierror"
	"cashdrawer/internal/ledger"
	"cashdrawer/internal/middleware"
	"cashdrawer/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.WithCode(apierror.CodeBadRequest, "JSON invalido: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// respondError writes the envelope for a service error.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrIdempotencyConflict):
		c.JSON(http.StatusConflict, apierror.WithCode("idempotency_conflict", err.Error()))
		return
	case errors.Is(err, service.ErrReportNotReady):
		c.JSON(http.StatusNotFound, apierror.WithCode("report_not_ready", err.Error()))
		return
	}
	status, body := apierror.FromError(err)
	if status == http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Str("path", c.FullPath()).
			Msg("cash request failed")
	}
	c.JSON(status, body)
}

func actor(c *gin.Context) service.Actor {
	claims := middleware.GetClaims(c)
	return service.Actor{UserID: claims.UserID, OrganizationID: claims.OrganizationID}
}

// sessionID parses the :id path parameter, writing a 400 when malformed.
func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.WithCode(apierror.CodeBadRequest, "ID inválido"))
		return uuid.Nil, false
	}
	return id, true
}

// ParseFilter reads the movement list query string:
// type, search, from, to, amount_min, amount_max, mine.
// from/to accept RFC 3339 or YYYY-MM-DD; a date-only "to" covers the whole day.
func ParseFilter(q func(string) string, currentUser string) (ledger.Filter, error) {
	var f ledger.Filter
	if v := q("type"); v != "" && !strings.EqualFold(v, "all") {
		t, err := ledger.ParseMovementType(v)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	f.Search = strings.TrimSpace(q("search"))

	if v := q("from"); v != "" {
		t, _, err := parseTime(v)
		if err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
		f.From = &t
	}
	if v := q("to"); v != "" {
		t, dateOnly, err := parseTime(v)
		if err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		f.To, f.ToDateOnly = &t, dateOnly
	}
	if v := q("amount_min"); v != "" {
		a, err := ledger.ParseAmount(v)
		if err != nil {
			return f, err
		}
		f.AmountMin = &a
	}
	if v := q("amount_max"); v != "" {
		a, err := ledger.ParseAmount(v)
		if err != nil {
			return f, err
		}
		f.AmountMax = &a
	}
	if mine, _ := strconv.ParseBool(q("mine")); mine {
		f.CreatedByMe, f.CurrentUser = true, currentUser
	}
	return f, nil
}

func parseTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}

func pageParams(c *gin.Context, defLimit int) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defLimit)))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = defLimit
	}
	return page, limit
}
