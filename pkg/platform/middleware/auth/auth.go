package auth

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
	"agencyhub/pkg/platform/httputil"
	request "agencyhub/pkg/platform/middleware/request"
	"agencyhub/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID   string
	Role     string
	EscortID string
	AgencyID string
	JTI      string
}

// toActor parses the claims at the trust boundary. An escort token must carry
// an escort id and an agency token an agency id.
func toActor(claims *JWTClaims) (requestcontext.ActorInfo, error) {
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return requestcontext.ActorInfo{}, err
	}
	actor := requestcontext.ActorInfo{UserID: userID, Role: requestcontext.Role(claims.Role)}
	switch actor.Role {
	case requestcontext.RoleEscort:
		actor.EscortID, err = id.ParseEscortID(claims.EscortID)
	case requestcontext.RoleAgency:
		actor.AgencyID, err = id.ParseAgencyID(claims.AgencyID)
	case requestcontext.RoleAdmin:
	default:
		err = dErrors.New(dErrors.CodeUnauthorized, "unknown role")
	}
	if err != nil {
		return requestcontext.ActorInfo{}, err
	}
	return actor, nil
}

func unauthorized(w http.ResponseWriter, description string) {
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, description))
}

// RequireAuth validates the bearer token and stores the actor on the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				unauthorized(w, "Invalid or expired token")
				return
			}

			actor, err := toActor(claims)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - malformed claims",
					"error", err,
					"jti", claims.JTI,
					"request_id", requestID,
				)
				unauthorized(w, "Invalid token claims")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}

// RequireRole rejects actors whose role is not listed. It must run after RequireAuth.
func RequireRole(logger *slog.Logger, roles ...requestcontext.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := requestcontext.Actor(ctx)
			if actor.UserID.IsNil() {
				unauthorized(w, "authentication required")
				return
			}
			if !slices.Contains(roles, actor.Role) {
				logger.WarnContext(ctx, "forbidden - role not allowed",
					"request_id", request.GetRequestID(ctx),
					"actor_id", actor.UserID.String(),
					"role", actor.Role,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "role not allowed for this endpoint"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
