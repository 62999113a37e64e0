package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const tagPasswordMix = "password_mix"

var registerOnce sync.Once

func registerValidations() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if err := v.RegisterValidation(tagPasswordMix, passwordMix); err != nil {
			zap.S().Errorw("registering password validation", "error", err)
		}
	})
}

// passwordMix requires a lowercase letter, an uppercase letter and a digit.
func passwordMix(fl validator.FieldLevel) bool {
	var lower, upper, digit bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}

// fieldMessages maps "<Field>.<tag>" to the message returned to clients.
var fieldMessages = map[string]string{
	"FullName.required":     "Full name is required",
	"FullName.min":          "Full name must be at least 2 characters long",
	"FullName.max":          "Full name cannot exceed 50 characters",
	"Email.required":        "Email is required",
	"Email.email":           "Please provide a valid email address",
	"Password.required":     "Password is required",
	"Password.min":          "Password must be at least 6 characters long",
	"Password.max":          "Password cannot exceed 128 characters",
	"Password.password_mix": "Password must contain at least one lowercase letter, one uppercase letter, and one number",
	"Text.max":              "Message cannot exceed 1000 characters",
	"ProfilePic.required":   "Profile picture is required",
}

type normalizer interface {
	normalize()
}

// bind decodes the JSON body into req, normalizes it and validates it. On
// failure the response is written and false returned.
func bind(c *gin.Context, req normalizer) bool {
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil {
		abort(c, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	req.normalize()

	if err := binding.Validator.ValidateStruct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message": msgValidationFailed,
			"errors":  validationMessages(err),
		})
		return false
	}
	return true
}

func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]; ok {
			out = append(out, msg)
			continue
		}
		out = append(out, fe.Error())
	}
	return out
}

type signupRequest struct {
	FullName string `json:"fullName" binding:"required,min=2,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=128,password_mix"`
}

func (r *signupRequest) normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (r *loginRequest) normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

type profilePicRequest struct {
	ProfilePic string `json:"profilePic" binding:"required"`
}

func (r *profilePicRequest) normalize() {
	r.ProfilePic = strings.TrimSpace(r.ProfilePic)
}

type sendMessageRequest struct {
	Text  string `json:"text" binding:"max=1000"`
	Image string `json:"image"`
}

func (r *sendMessageRequest) normalize() {
	r.Text = strings.TrimSpace(r.Text)
	r.Image = strings.TrimSpace(r.Image)
}
