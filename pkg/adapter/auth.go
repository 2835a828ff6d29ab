package adapter

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/models"
)

// AuthStore is the credential surface adapters authenticate against.
type AuthStore interface {
	// VerifyPassword checks a cleartext password and returns the user on
	// success. Failures of any cause return models.ErrInvalidCredentials.
	VerifyPassword(ctx context.Context, username, cleartext string) (*models.User, error)

	// GetUserByUsername loads a user for non-password flows (public key).
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// IsSubscribed reports whether the user may connect to the listener.
	IsSubscribed(ctx context.Context, userID, listenerID string) (bool, error)
}

// ErrAuthFailed is the uniform rejection adapters surface to clients.
// Unknown users, wrong passwords, disabled credentials, and missing
// subscriptions all collapse into it so probing cannot tell them apart.
var ErrAuthFailed = errors.New("authentication failed")

// Authenticator runs the credential checks shared by every protocol:
// verify the secret, confirm the listener subscription, and record the
// LOGIN or LOGIN_DENIED activity.
type Authenticator struct {
	store    AuthStore
	sink     ActivitySink
	listener *models.Listener
}

// NewAuthenticator builds the credential checker for one listener.
func NewAuthenticator(store AuthStore, sink ActivitySink, listener *models.Listener) *Authenticator {
	return &Authenticator{store: store, sink: sink, listener: listener}
}

// Password authenticates a username/password pair and admits the user if
// subscribed to the listener. Every failure returns ErrAuthFailed; the
// distinguishing detail goes to the log and the activity trail only.
func (a *Authenticator) Password(ctx context.Context, username, password, clientIP string) (*models.User, error) {
	user, err := a.store.VerifyPassword(ctx, username, password)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidCredentials) {
			logger.Error("credential check failed",
				logger.KeyProtocol, a.listener.Protocol,
				logger.KeyListener, a.listener.Name,
				logger.KeyUsername, username,
				logger.KeyError, err.Error())
		}
		a.Deny(username, clientIP, "invalid credentials")
		return nil, ErrAuthFailed
	}
	return a.Admit(ctx, user, clientIP, "password")
}

// LookupUser loads a user for a protocol-specific credential check such as
// public key matching. Callers finish with Admit or Deny. Unknown users
// return ErrAuthFailed.
func (a *Authenticator) LookupUser(ctx context.Context, username string) (*models.User, error) {
	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, models.ErrUserNotFound) {
			logger.Error("user lookup failed",
				logger.KeyProtocol, a.listener.Protocol,
				logger.KeyListener, a.listener.Name,
				logger.KeyUsername, username,
				logger.KeyError, err.Error())
		}
		return nil, ErrAuthFailed
	}
	return user, nil
}

// Admit finishes authentication for a user whose credential already
// checked out: it enforces the listener subscription and records LOGIN.
func (a *Authenticator) Admit(ctx context.Context, user *models.User, clientIP, method string) (*models.User, error) {
	ctx, span := telemetry.StartSpan(ctx, "auth.admit",
		trace.WithAttributes(
			telemetry.AuthMethod(method),
			telemetry.Username(user.Username),
			telemetry.ClientIP(clientIP),
			telemetry.ListenerID(a.listener.ID)))
	defer span.End()

	subscribed, err := a.store.IsSubscribed(ctx, user.ID, a.listener.ID)
	if err != nil {
		logger.Error("subscription check failed",
			logger.KeyProtocol, a.listener.Protocol,
			logger.KeyListener, a.listener.Name,
			logger.KeyUsername, user.Username,
			logger.KeyError, err.Error())
		telemetry.RecordError(ctx, err)
		a.Deny(user.Username, clientIP, "subscription check failed")
		return nil, ErrAuthFailed
	}
	if !subscribed {
		telemetry.RecordError(ctx, ErrAuthFailed)
		a.Deny(user.Username, clientIP, "not subscribed to listener")
		return nil, ErrAuthFailed
	}

	logger.Info("login",
		logger.KeyProtocol, a.listener.Protocol,
		logger.KeyListener, a.listener.Name,
		logger.KeyUsername, user.Username,
		logger.KeyClientIP, clientIP,
		"method", method)

	a.record(&models.ActivityRecord{
		ListenerID: &a.listener.ID,
		Username:   user.Username,
		Action:     models.ActionLogin,
		Success:    true,
	})
	return user, nil
}

// Deny records a LOGIN_DENIED activity. The reason stays server-side.
func (a *Authenticator) Deny(username, clientIP, reason string) {
	logger.Warn("login denied",
		logger.KeyProtocol, a.listener.Protocol,
		logger.KeyListener, a.listener.Name,
		logger.KeyUsername, username,
		logger.KeyClientIP, clientIP,
		logger.KeyReason, reason)

	a.record(&models.ActivityRecord{
		ListenerID: &a.listener.ID,
		Username:   username,
		Action:     models.Denied(models.ActionLogin),
		Success:    false,
	})
}

func (a *Authenticator) record(rec *models.ActivityRecord) {
	if a.sink == nil {
		return
	}
	a.sink.LogActivity(rec)
}
