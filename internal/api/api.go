// Package api serves the REST endpoints for accounts, message history and
// sending, and the online-user snapshot.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/echoes/internal/auth"
	"github.com/Tyrowin/echoes/internal/events"
	"github.com/Tyrowin/echoes/internal/media"
	"github.com/Tyrowin/echoes/internal/presence"
	"github.com/Tyrowin/echoes/internal/store"
)

// Upload folders.
const (
	folderProfiles = "echoes/profiles"
	folderMessages = "echoes/messages"
)

// Response messages.
const (
	msgInternal           = "Internal server error"
	msgInvalidBody        = "Invalid request body"
	msgValidationFailed   = "Validation failed"
	msgInvalidCredentials = "Invalid credentials"
	msgEmailExists        = "Email already exists"
	msgUserNotFound       = "User not found"
	msgInvalidUserID      = "Invalid user ID"
	msgLoggedOut          = "Logged out successfully"
	msgUploadFailed       = "Failed to upload image"
	msgUploadsDisabled    = "Image uploads are disabled"
	msgInvalidFileType    = "Invalid file type"
	msgFileTooLarge       = "File size exceeds limit"
	msgTextOrImage        = "Either text or image is required"
)

// Options are the dependencies of the API.
type Options struct {
	Store        store.Store
	Tokens       *auth.Manager
	Guard        *auth.Guard
	Hasher       *auth.PasswordHasher
	Uploader     media.Uploader
	Presence     *presence.Manager
	Events       events.Publisher
	CookieSecure bool
}

// API holds the REST handlers.
type API struct {
	store        store.Store
	tokens       *auth.Manager
	guard        *auth.Guard
	hasher       *auth.PasswordHasher
	uploader     media.Uploader
	presence     *presence.Manager
	events       events.Publisher
	cookieSecure bool
}

// New returns an API. Missing optional dependencies get safe defaults.
func New(o Options) *API {
	registerValidations()

	if o.Uploader == nil {
		o.Uploader = media.Disabled{}
	}
	if o.Events == nil {
		o.Events = events.Nop{}
	}
	if o.Hasher == nil {
		o.Hasher = auth.NewPasswordHasher(auth.DefaultBcryptCost)
	}

	return &API{
		store:        o.Store,
		tokens:       o.Tokens,
		guard:        o.Guard,
		hasher:       o.Hasher,
		uploader:     o.Uploader,
		presence:     o.Presence,
		events:       o.Events,
		cookieSecure: o.CookieSecure,
	}
}

// Register mounts the routes on rg, normally the /api group.
func (a *API) Register(rg *gin.RouterGroup) {
	protect := a.guard.Protect()

	authGroup := rg.Group("/auth")
	authGroup.POST("/signup", a.signup)
	authGroup.POST("/login", a.login)
	authGroup.POST("/logout", a.logout)
	authGroup.PUT("/update-profile", protect, a.updateProfile)
	authGroup.GET("/check", protect, a.checkAuth)

	messages := rg.Group("/messages", protect)
	messages.GET("/users", a.usersForSidebar)
	messages.GET("/:id", a.conversation)
	messages.POST("/send/:id", a.sendMessage)

	rg.GET("/presence/online", protect, a.online)
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

func (a *API) online(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": a.presence.Online()})
}
