// Package httpserver contains HTTP handlers and middleware for the
// control plane's admission, dispatch, result, and status surface.
package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Argon2Params defines parameters for Argon2id secret hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

var defaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// DefaultArgon2Params returns the parameters used to hash newly-created
// cluster shared secrets.
func DefaultArgon2Params() Argon2Params { return defaultArgon2Params }

// HashPassword creates an Argon2id hash of a cluster shared secret.
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	encoded := fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations, params.Memory, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyPassword verifies a cluster shared secret against its Argon2id hash.
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters64, err1 := parseUint32(parts[1])
	mem64, err2 := parseUint32(parts[2])
	par64, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	var par uint8
	if par64 > math.MaxUint8 {
		par = math.MaxUint8
	} else {
		par = uint8(par64)
	}
	actualHash := argon2.IDKey([]byte(password), salt, iters64, mem64, par, defaultArgon2Params.KeyLen)
	return subtle.ConstantTimeCompare(actualHash, expectedHash) == 1
}

func parseUint32(s string) (uint32, error) {
	x, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse")
	}
	if x > math.MaxUint32 {
		return 0, fmt.Errorf("parse")
	}
	return uint32(x), nil
}

type clusterIDKey struct{}

// ClusterIDFromContext extracts the authenticated cluster id, set by
// ClusterAuth, from the request context.
func ClusterIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clusterIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ClusterAuth enforces the bearer-secret + cluster-id contract of spec §6:
// requests carry `Authorization: Bearer <secret>` and an `X-Cluster-Id`
// header; the secret is verified against the cluster's stored Argon2id
// hash via clusters.
func ClusterAuth(clusters domain.ClusterRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clusterID := strings.TrimSpace(r.Header.Get("X-Cluster-Id"))
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if clusterID == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				writeError(w, r, domain.ErrUnauthorized, nil)
				return
			}
			secret := strings.TrimSpace(authz[len("Bearer "):])
			ok, err := clusters.VerifySecret(r.Context(), clusterID, secret)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			if !ok {
				writeError(w, r, domain.ErrUnauthorized, nil)
				return
			}
			ctx := context.WithValue(r.Context(), clusterIDKey{}, clusterID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
