// Package config defines interfaces for loading sandbox configuration.
package config

import (
	"context"

	"codeduel/internal/judge/sandbox/profile"
)

// LanguageSpecRepository loads language definitions.
type LanguageSpecRepository interface {
	GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error)
}

// TaskProfileRepository loads task profiles by type and language.
type TaskProfileRepository interface {
	GetTaskProfile(ctx context.Context, taskType profile.TaskType, languageID string) (profile.TaskProfile, error)
}
