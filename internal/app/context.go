package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"planline/internal/config"
	"planline/internal/repo"
)

// ResolveProjectAndPrefs picks the working project and ensures it plus its
// optimization prefs exist in the store, seeding defaults when missing. It
// prefers the explicit override, then the single project in the workspace.
// A named project that does not exist yet is created on the fly.
func ResolveProjectAndPrefs(ctx context.Context, projectOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := r.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project or set PLANLINE_DEFAULT_PROJECT (pl project use <id>)")
		}
	}
	seed := config.Default(projectID)

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, seed); err != nil {
			return "", nil, err
		}
	}
	prefs, err := r.GetProjectPrefs(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertProjectPrefs(ctx, projectID, seed); err != nil {
				return "", nil, fmt.Errorf("seed project prefs: %w", err)
			}
			prefs = seed
		} else {
			return "", nil, err
		}
	}
	prefs.Project.ID = projectID
	return projectID, prefs, nil
}

func createProject(ctx context.Context, r repo.Repo, projectID string, seed *config.Config) error {
	if seed == nil {
		seed = config.Default(projectID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,status,start_date,created_at) VALUES (?,?,?,?,?)`,
		projectID, projectID, "active", now, now); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectPrefsTx(ctx, tx, projectID, seed); err != nil {
		return fmt.Errorf("insert project prefs: %w", err)
	}
	return tx.Commit()
}
