package httpkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the uploader AuthRequired resolved from the access token.
type Identity struct {
	userID uuid.UUID
}

// UserID returns the authenticated user's ID.
func (i Identity) UserID() uuid.UUID {
	return i.userID
}

// GetIdentity reads the identity AuthRequired stored on the context.
func GetIdentity(c *gin.Context) (Identity, bool) {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return Identity{}, false
	}
	userID, ok := raw.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return Identity{}, false
	}
	return Identity{userID: userID}, true
}

// MustGetIdentity aborts with 401 when the request carries no identity.
func MustGetIdentity(c *gin.Context) (Identity, bool) {
	id, ok := GetIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return id, ok
}
