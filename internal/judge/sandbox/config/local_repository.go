package config

import (
	"context"
	"fmt"
	"os"
	"sort"

	"codeduel/internal/judge/sandbox/profile"
	"codeduel/internal/judge/sandbox/security"
	appErr "codeduel/pkg/errors"

	"gopkg.in/yaml.v3"
)

// LocalRepository loads language specs and task profiles from memory.
type LocalRepository struct {
	languages map[string]profile.LanguageSpec
	profiles  map[string]profile.TaskProfile
}

// File is the on-disk layout of the language table.
type File struct {
	Languages []profile.LanguageSpec `yaml:"languages"`
	Profiles  []profile.TaskProfile  `yaml:"profiles"`
}

// NewLocalRepository creates a repository from config lists.
func NewLocalRepository(languages []profile.LanguageSpec, profiles []profile.TaskProfile) *LocalRepository {
	langMap := make(map[string]profile.LanguageSpec)
	for _, lang := range languages {
		if lang.ID == "" {
			continue
		}
		langMap[lang.ID] = lang
	}
	profileMap := make(map[string]profile.TaskProfile)
	for _, prof := range profiles {
		if prof.TaskType == "" || prof.LanguageID == "" {
			continue
		}
		profileMap[profile.Name(prof.LanguageID, prof.TaskType)] = prof
	}
	return &LocalRepository{languages: langMap, profiles: profileMap}
}

// LoadFile reads a YAML language table.
func LoadFile(path string) (*LocalRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language table failed: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse language table failed: %w", err)
	}
	if len(f.Languages) == 0 {
		return nil, fmt.Errorf("language table %s defines no languages", path)
	}
	return NewLocalRepository(f.Languages, f.Profiles), nil
}

// GetLanguageSpec returns a language spec.
func (r *LocalRepository) GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error) {
	if id == "" {
		return profile.LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return profile.LanguageSpec{}, appErr.Newf(appErr.LanguageNotSupported, "language %q not supported", id)
	}
	return lang, nil
}

// Supports reports whether a language id is configured.
func (r *LocalRepository) Supports(id string) bool {
	_, ok := r.languages[id]
	return ok
}

// LanguageIDs lists configured languages in stable order.
func (r *LocalRepository) LanguageIDs() []string {
	ids := make([]string, 0, len(r.languages))
	for id := range r.languages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetTaskProfile returns a task profile by type and language.
func (r *LocalRepository) GetTaskProfile(ctx context.Context, taskType profile.TaskType, languageID string) (profile.TaskProfile, error) {
	if taskType == "" || languageID == "" {
		return profile.TaskProfile{}, appErr.ValidationError("task_profile", "required")
	}
	prof, ok := r.profiles[profile.Name(languageID, taskType)]
	if !ok {
		return profile.TaskProfile{}, appErr.Newf(appErr.JudgeSystemError, "task profile %s not configured", profile.Name(languageID, taskType))
	}
	return prof, nil
}

// Resolve maps a profile name to isolation settings.
// Network is always disabled for submitted code.
func (r *LocalRepository) Resolve(profileName string) (security.IsolationProfile, error) {
	if profileName == "" {
		return security.IsolationProfile{}, appErr.ValidationError("profile", "required")
	}
	prof, ok := r.profiles[profileName]
	if !ok {
		return security.IsolationProfile{}, appErr.Newf(appErr.JudgeSystemError, "profile %s not found", profileName)
	}
	return security.IsolationProfile{
		RootFS:         prof.RootFS,
		SeccompProfile: prof.SeccompProfile,
		DisableNetwork: true,
	}, nil
}
