package middleware

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

var (
	validate     = validator.New()
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

// SanitizeString removes control characters and trims whitespace.
func SanitizeString(input string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(input, ""))
}

// InstanceParam returns the :id path parameter after validating it.
func InstanceParam(c *gin.Context) (string, error) {
	id := SanitizeString(c.Param("id"))
	if err := utils.ValidateInstanceID(id); err != nil {
		return "", err
	}
	return id, nil
}

// BuildQuery parses a positive build index from the query string. ok is
// false when the parameter is absent.
func BuildQuery(c *gin.Context, name string) (build int, ok bool, err error) {
	raw := SanitizeString(c.Query(name))
	if raw == "" {
		return 0, false, nil
	}
	build, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be a number", name)
	}
	if err := validate.Var(build, "gte=1"); err != nil {
		return 0, false, fmt.Errorf("%s must be at least 1", name)
	}
	return build, true, nil
}

// HashQuery returns an optional sha256 hex digest from the query string.
func HashQuery(c *gin.Context, name string) (string, error) {
	raw := strings.ToLower(SanitizeString(c.Query(name)))
	if raw == "" {
		return "", nil
	}
	if !models.IsSHA256Hex(raw) {
		return "", fmt.Errorf("%s must be a sha256 hex digest", name)
	}
	return raw, nil
}
