// Package settings provides the scoped key/value settings collaborator used
// for runtime-tunable values (batch size, max attempts, retention).
package settings

import (
	"context"
	"errors"
	"strconv"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/pkg/ctxlog"
)

// ErrSettingNotFound is returned when a scope/key pair has no value.
var ErrSettingNotFound = errors.New("setting not found")

// Store reads scoped settings values.
type Store interface {
	Get(ctx context.Context, scope, key string) (string, error)
}

// Scope used by the notification subsystem.
const ScopeNotifications = "notifications"

// IntOr reads an integer setting, falling back to def when the setting is
// missing, malformed or the store is unavailable. Lookup failures are logged
// and never abort a run.
func IntOr(ctx context.Context, store Store, scope, key string, def int) int {
	if store == nil {
		return def
	}

	raw, err := store.Get(ctx, scope, key)
	if err != nil {
		if !errors.Is(err, ErrSettingNotFound) {
			ctxlog.FromContext(ctx).Warn("settings lookup failed, using default",
				"scope", scope, "key", key, "default", def, "error", err)
		}
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("setting is not an integer, using default",
			"scope", scope, "key", key, "value", raw, "default", def)
		return def
	}
	return v
}

// BoolOr reads a boolean setting with the same fallback behavior as IntOr.
func BoolOr(ctx context.Context, store Store, scope, key string, def bool) bool {
	if store == nil {
		return def
	}

	raw, err := store.Get(ctx, scope, key)
	if err != nil {
		if !errors.Is(err, ErrSettingNotFound) {
			ctxlog.FromContext(ctx).Warn("settings lookup failed, using default",
				"scope", scope, "key", key, "default", def, "error", err)
		}
		return def
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("setting is not a boolean, using default",
			"scope", scope, "key", key, "value", raw, "default", def)
		return def
	}
	return v
}
