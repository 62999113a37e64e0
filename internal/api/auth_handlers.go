package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/auth"
	"github.com/Tyrowin/echoes/internal/models"
	"github.com/Tyrowin/echoes/internal/store"
)

// authResponse is the user record plus the session token, so non-browser
// clients can present it as a bearer header or handshake parameter.
type authResponse struct {
	*models.User
	Token string `json:"token"`
}

func (a *API) signup(c *gin.Context) {
	var req signupRequest
	if !bind(c, &req) {
		return
	}

	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		zap.S().Errorw("hashing password", "error", err)
		abort(c, http.StatusInternalServerError, msgInternal)
		return
	}

	user, err := a.store.CreateUser(c.Request.Context(), store.NewUser{
		FullName:     req.FullName,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			zap.S().Warnw("signup attempt with existing email", "email", req.Email)
			abort(c, http.StatusConflict, msgEmailExists)
			return
		}
		zap.S().Errorw("creating user", "error", err)
		abort(c, http.StatusInternalServerError, msgInternal)
		return
	}

	token, ok := a.startSession(c, user)
	if !ok {
		return
	}

	zap.S().Infow("user created", "user_id", user.ID.Hex())
	c.JSON(http.StatusCreated, authResponse{User: user, Token: token})
}

func (a *API) login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}

	user, err := a.store.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			zap.S().Warnw("login attempt with unknown email", "email", req.Email)
			abort(c, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		zap.S().Errorw("loading user by email", "error", err)
		abort(c, http.StatusInternalServerError, msgInternal)
		return
	}

	if !a.hasher.Verify(req.Password, user.Password) {
		zap.S().Warnw("login attempt with incorrect password", "user_id", user.ID.Hex())
		abort(c, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	token, ok := a.startSession(c, user)
	if !ok {
		return
	}

	zap.S().Infow("user logged in", "user_id", user.ID.Hex())
	c.JSON(http.StatusOK, authResponse{User: user, Token: token})
}

// startSession issues a token and sets the session cookie.
func (a *API) startSession(c *gin.Context, user *models.User) (string, bool) {
	token, _, err := a.tokens.Issue(user.ID.Hex())
	if err != nil {
		zap.S().Errorw("issuing token", "user_id", user.ID.Hex(), "error", err)
		abort(c, http.StatusInternalServerError, msgInternal)
		return "", false
	}

	http.SetCookie(c.Writer, auth.NewCookie(token, a.tokens.TTL(), a.cookieSecure))
	return token, true
}

func (a *API) logout(c *gin.Context) {
	http.SetCookie(c.Writer, auth.ClearCookie(a.cookieSecure))
	c.JSON(http.StatusOK, gin.H{"message": msgLoggedOut})
}

func (a *API) updateProfile(c *gin.Context) {
	me, _ := auth.CurrentUser(c)

	var req profilePicRequest
	if !bind(c, &req) {
		return
	}

	url, ok := a.upload(c, folderProfiles, req.ProfilePic)
	if !ok {
		return
	}

	user, err := a.store.UpdateProfilePic(c.Request.Context(), me.ID.Hex(), url)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abort(c, http.StatusNotFound, msgUserNotFound)
			return
		}
		zap.S().Errorw("updating profile picture", "user_id", me.ID.Hex(), "error", err)
		abort(c, http.StatusInternalServerError, msgInternal)
		return
	}

	a.guard.Forget(me.ID.Hex())
	zap.S().Infow("profile updated", "user_id", me.ID.Hex())
	c.JSON(http.StatusOK, user)
}

func (a *API) checkAuth(c *gin.Context) {
	me, _ := auth.CurrentUser(c)
	c.JSON(http.StatusOK, me)
}
