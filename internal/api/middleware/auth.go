package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/api"
	"github.com/cloo-solutions/kbindex/internal/domain"
)

type contextKey string

const TeamIDKey contextKey = "team_id"

// AuthValidator resolves a bearer token to the team it belongs to.
type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// APIKeyAuth requires "Authorization: Bearer <key>" and stores the owning
// team in the request context. Rejections carry the UNAUTHORIZED code and a
// WWW-Authenticate challenge; validator failures that are not about the key
// itself are reported as server errors.
func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "missing or malformed bearer token")
				return
			}

			teamID, err := validator.ValidateAPIKey(r.Context(), token)
			switch {
			case err == nil && teamID != "":
			case err == nil, errors.Is(err, domain.ErrInvalidAPIKey), domain.Code(err) == "":
				unauthorized(w, "invalid api key")
				return
			default:
				api.HandleError(w, err)
				return
			}

			if st, ok := r.Context().Value(requestStateKey).(*requestState); ok {
				st.teamID = teamID
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), TeamIDKey, teamID)))
		})
	}
}

// bearerToken extracts the credential from an Authorization header. The
// scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="kbindex"`)
	api.JSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: message, Code: domain.ErrCodeUnauthorized})
}

func GetTeamID(ctx context.Context) string {
	teamID, _ := ctx.Value(TeamIDKey).(string)
	return teamID
}
