// Package grpc carries the POS session over gRPC: client interceptors that
// attach identity metadata and the bearer token to outgoing calls, plus
// helpers to read that metadata on the receiving side.
package grpc

import (
	"context"
	"strings"

	"github.com/panyam/possession"
	"google.golang.org/grpc/metadata"
)

// Default metadata keys. gRPC metadata keys are lowercase.
const (
	DefaultMetadataKeyRestaurantID   = "x-restaurant-id"
	DefaultMetadataKeyRestaurantName = "x-restaurant-name"
	DefaultMetadataKeyUserID         = "x-user-id"
	DefaultMetadataKeyAuthorization  = "authorization"
)

// Config holds the metadata key configuration.
type Config struct {
	MetadataKeyRestaurantID   string
	MetadataKeyRestaurantName string
	MetadataKeyUserID         string
	MetadataKeyAuthorization  string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyRestaurantID:   DefaultMetadataKeyRestaurantID,
		MetadataKeyRestaurantName: DefaultMetadataKeyRestaurantName,
		MetadataKeyUserID:         DefaultMetadataKeyUserID,
		MetadataKeyAuthorization:  DefaultMetadataKeyAuthorization,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyRestaurantID == "" {
		c.MetadataKeyRestaurantID = DefaultMetadataKeyRestaurantID
	}
	if c.MetadataKeyRestaurantName == "" {
		c.MetadataKeyRestaurantName = DefaultMetadataKeyRestaurantName
	}
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

// BundleToOutgoingContext adds the identity and bearer token of b to the
// outgoing gRPC metadata.
func BundleToOutgoingContext(ctx context.Context, b possession.Bundle, config *Config) context.Context {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	return metadata.AppendToOutgoingContext(ctx,
		config.MetadataKeyRestaurantID, b.Identity.RestaurantID,
		config.MetadataKeyRestaurantName, b.Identity.RestaurantName,
		config.MetadataKeyUserID, b.Identity.UserID,
		config.MetadataKeyAuthorization, possession.BearerValue(b.AccessToken),
	)
}

// IdentityFromIncomingContext reads the identity a caller attached.
// ok is false when restaurant or user is missing.
func IdentityFromIncomingContext(ctx context.Context, config *Config) (id possession.Identity, ok bool) {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, found := metadata.FromIncomingContext(ctx)
	if !found {
		return id, false
	}

	id.RestaurantID = first(md, config.MetadataKeyRestaurantID)
	id.RestaurantName = first(md, config.MetadataKeyRestaurantName)
	id.UserID = first(md, config.MetadataKeyUserID)
	return id, !id.IsZero()
}

// BearerFromIncomingContext returns the bearer token a caller attached, if any.
func BearerFromIncomingContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if token, ok := strings.CutPrefix(first(md, config.MetadataKeyAuthorization), "Bearer "); ok {
		return token
	}
	return ""
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
