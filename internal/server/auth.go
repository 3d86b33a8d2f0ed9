package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"planline/internal/repo"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	Logger                 *log.Logger
}

// Principal identifies the authenticated caller. Source records which
// credential produced it (jwt, api_key, legacy_header).
type Principal struct {
	ActorID string
	Source  string
}

type principalKey struct{}

func actorIDFromContext(ctx context.Context) (string, error) {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok && p.ActorID != "" {
		return p.ActorID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

var errNoCredentials = errors.New("no credentials presented")

// resolvePrincipal tries credentials in precedence order: Authorization
// bearer token, then X-Api-Key, then the deprecated X-Actor-Id header.
func resolvePrincipal(req *http.Request, cfg AuthConfig, r repo.Repo) (Principal, error) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		parts := strings.Fields(authz)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return Principal{}, errors.New("malformed authorization header")
		}
		return principalFromJWT(parts[1], cfg.JWTSecret)
	}

	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		stored, err := r.GetAPIKeyByHash(req.Context(), repo.HashAPIKey(key))
		if err != nil {
			return Principal{}, err
		}
		if stored.ActorID == "" {
			return Principal{}, errors.New("api key missing actor")
		}
		return Principal{ActorID: stored.ActorID, Source: "api_key"}, nil
	}

	if actor := strings.TrimSpace(req.Header.Get("X-Actor-Id")); actor != "" && cfg.AllowLegacyActorHeader {
		logger := cfg.Logger
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("WARNING: using legacy X-Actor-Id header without auth; this path is deprecated and ignored when Authorization or X-Api-Key is present (actor_id=%s)", actor)
		return Principal{ActorID: actor, Source: "legacy_header"}, nil
	}

	return Principal{}, errNoCredentials
}

func principalFromJWT(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	switch {
	case err != nil:
		return Principal{}, err
	case !parsed.Valid:
		return Principal{}, errors.New("invalid token")
	case claims.Subject == "":
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{ActorID: claims.Subject, Source: "jwt"}, nil
}

// newAuthMiddleware guards every route under basePath except health.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			principal, err := resolvePrincipal(req, cfg, r)
			if err != nil {
				apiErr := newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
				if errors.Is(err, errNoCredentials) {
					apiErr = newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(apiErr)
				return
			}
			ctx := context.WithValue(req.Context(), principalKey{}, principal)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
