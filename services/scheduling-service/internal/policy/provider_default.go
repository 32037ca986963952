//go:build !protogen

package policy

import "log/slog"

func NewBusinessPolicyProvider(_ *slog.Logger, _ string) (Provider, error) {
	return NewStaticProvider(), nil
}
