package obscontext

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey  contextKey = "obs.request_id"
	userIDKey     contextKey = "obs.user_id"
	featureKeyKey contextKey = "obs.feature_key"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func WithUserID(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userIDKey).(string)
	return value
}

// WithFeatureKey tags the context with the feature being priced or charged.
func WithFeatureKey(ctx context.Context, featureKey string) context.Context {
	featureKey = strings.TrimSpace(featureKey)
	if featureKey == "" {
		return ctx
	}
	return context.WithValue(ctx, featureKeyKey, featureKey)
}

func FeatureKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(featureKeyKey).(string)
	return value
}
