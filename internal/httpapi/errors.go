package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"cfszone_connect/answer_uma_provider/internal/grant"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/uma"
)

type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	State            string `json:"state,omitempty"`
	TraceID          string `json:"trace_id,omitempty"`
}

// UMAError is the 403 body for a ticket that was not authorized.
type UMAError struct {
	Error          string              `json:"error"`
	Ticket         string              `json:"ticket"`
	RequiredClaims []uma.RequiredClaim `json:"required_claims,omitempty"`
	ResourceID     string              `json:"resource_id,omitempty"`
	TraceID        string              `json:"trace_id,omitempty"`
}

// writeError renders err. Server faults are logged since their detail never
// reaches the client.
func writeError(ctx HTTPContext, logger *slog.Logger, err error, traceID string) {
	var denied *grant.DeniedError
	if errors.As(err, &denied) {
		ctx.JSON(http.StatusForbidden, UMAError{
			Error:          denied.Result.Outcome.String(),
			Ticket:         denied.Ticket,
			RequiredClaims: denied.Result.RequiredClaims,
			ResourceID:     denied.Result.ResourceSetID,
			TraceID:        traceID,
		})
		return
	}
	oerr := oautherr.As(err)
	status := oerr.Status()
	if status >= http.StatusInternalServerError && logger != nil {
		logger.WarnContext(ctx.Context(), "request failed", slog.String("trace_id", traceID), slog.Any("error", err))
	}
	if oerr.Code == oautherr.InvalidClient && ctx.Header("Authorization") != "" {
		ctx.SetHeader("WWW-Authenticate", `Basic realm="token"`)
	}
	writeOAuthError(ctx, status, oerr.Code, oerr.Description, oerr.State, traceID)
}

func writeOAuthError(ctx HTTPContext, status int, errCode, description, state, traceID string) {
	ctx.JSON(status, OAuthError{
		Error:            errCode,
		ErrorDescription: description,
		State:            state,
		TraceID:          traceID,
	})
}

func unauthorized(ctx HTTPContext, traceID string) {
	ctx.SetHeader("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeOAuthError(ctx, http.StatusUnauthorized, oautherr.InvalidToken, "access token is invalid", "", traceID)
}

func writeServiceUnavailable(ctx HTTPContext, traceID string) {
	writeOAuthError(ctx, http.StatusInternalServerError, oautherr.ServerError, "service unavailable", "", traceID)
}
