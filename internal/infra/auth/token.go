package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"arcyn-link/internal/domain"
)

// Ошибки проверки токена. Любая из них фатальна для попытки подключения.
var (
	ErrTokenEmpty     = errors.New("токен отсутствует")
	ErrTokenMalformed = errors.New("токен повреждён")
	ErrTokenSignature = errors.New("подпись недействительна")
	ErrTokenExpired   = errors.New("токен истёк")
)

// HMACVerifier проверяет токены, подписанные общим секретом.
// Токен: base64url(user_id|team_id|username|expires_unix) + "." + hex(hmac-sha256).
type HMACVerifier struct {
	secret []byte
	now    func() time.Time
}

var _ domain.TokenVerifier = (*HMACVerifier)(nil)

// NewHMACVerifier создаёт верификатор по секрету.
func NewHMACVerifier(secret string) *HMACVerifier {
	sum := sha256.Sum256([]byte(secret))
	return &HMACVerifier{secret: sum[:], now: time.Now}
}

// Sign выпускает токен для указанной личности.
func (v *HMACVerifier) Sign(identity domain.Identity, ttl time.Duration) string {
	expires := v.now().Add(ttl).Unix()
	payload := strings.Join([]string{
		identity.UserID,
		identity.TeamID,
		identity.Username,
		strconv.FormatInt(expires, 10),
	}, "|")
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + v.signature(encoded)
}

// Verify реализует domain.TokenVerifier.
func (v *HMACVerifier) Verify(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, ErrTokenEmpty
	}
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return domain.Identity{}, ErrTokenMalformed
	}
	if !hmac.Equal([]byte(v.signature(encoded)), []byte(sig)) {
		return domain.Identity{}, ErrTokenSignature
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return domain.Identity{}, ErrTokenMalformed
	}
	expires, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if v.now().Unix() >= expires {
		return domain.Identity{}, ErrTokenExpired
	}
	return domain.Identity{UserID: parts[0], TeamID: parts[1], Username: parts[2]}, nil
}

func (v *HMACVerifier) signature(encoded string) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(encoded))
	return hex.EncodeToString(h.Sum(nil))
}
