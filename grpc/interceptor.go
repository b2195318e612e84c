package grpc

import (
	"context"
	"errors"

	"github.com/panyam/possession"
	"github.com/panyam/possession/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InterceptorConfig configures the client interceptors.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// PublicMethods are sent without credentials.
	// Keys should be full method names like "/pos.Menu/List".
	PublicMethods map[string]bool

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// DefaultInterceptorConfig returns a config that attaches credentials to every method.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

func (c *InterceptorConfig) ensureDefaults() *InterceptorConfig {
	if c == nil {
		c = DefaultInterceptorConfig()
	}
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
	if c.Logger == nil {
		c.Logger = &log.Logger
	}
	return c
}

// UnaryClientInterceptor attaches the session to every unary call. A call
// rejected with codes.Unauthenticated is retried once after a refresh; a
// second rejection clears the session and is returned to the caller. A call
// whose token was renewed just before sending is not refreshed again.
func UnaryClientInterceptor(auth *client.Authenticator, config *InterceptorConfig) grpc.UnaryClientInterceptor {
	config = config.ensureDefaults()

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if config.PublicMethods[method] {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		b, ok, renewed, err := auth.Credentials(ctx)
		if !ok {
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		if err != nil {
			return err
		}

		err = invoker(BundleToOutgoingContext(ctx, b, config.Config), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}
		if renewed {
			if auth.Store().Clear() {
				config.Logger.Info().Str("method", method).Msg("session terminated: call rejected after refresh")
			}
			return err
		}

		token, rerr := auth.Renew(ctx)
		if rerr != nil {
			if errors.Is(rerr, possession.ErrNoRefreshToken) || errors.Is(rerr, possession.ErrAnonymous) {
				return err
			}
			return rerr
		}

		b.AccessToken = token
		config.Logger.Debug().Str("method", method).Msg("replaying call with refreshed token")
		err = invoker(BundleToOutgoingContext(ctx, b, config.Config), method, req, reply, cc, opts...)
		if status.Code(err) == codes.Unauthenticated {
			if auth.Store().Clear() {
				config.Logger.Info().Str("method", method).Msg("session terminated: call rejected after refresh")
			}
		}
		return err
	}
}

// StreamClientInterceptor attaches the session when a stream is opened.
// Streams are not replayed.
func StreamClientInterceptor(auth *client.Authenticator, config *InterceptorConfig) grpc.StreamClientInterceptor {
	config = config.ensureDefaults()

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		if config.PublicMethods[method] {
			return streamer(ctx, desc, cc, method, opts...)
		}

		b, ok, _, err := auth.Credentials(ctx)
		if !ok {
			return streamer(ctx, desc, cc, method, opts...)
		}
		if err != nil {
			return nil, err
		}
		return streamer(BundleToOutgoingContext(ctx, b, config.Config), desc, cc, method, opts...)
	}
}
