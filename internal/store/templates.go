package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/db"
	"github.com/tmuxagents/tmuxagents/internal/events"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// SaveTemplate inserts or updates a persona template and fires
// template.updated.
func (s *Store) SaveTemplate(ctx context.Context, t *v1.Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := v1.Now()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE templates SET name = ?, role = ?, content = ?, built_in = ?, updated_at = ? WHERE id = ?
	`), t.Name, t.Role, t.Content, db.BoolToInt(t.BuiltIn), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, err = w.ExecContext(ctx, w.Rebind(`
			INSERT INTO templates (id, name, role, content, built_in, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		`), t.ID, t.Name, t.Role, t.Content, db.BoolToInt(t.BuiltIn), t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return err
		}
	}
	s.publish(ctx, events.TemplateUpdated, map[string]interface{}{"template": t})
	return nil
}

// DeleteTemplate removes a template and fires template.deleted. Built-in
// templates cannot be deleted.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if t.BuiltIn {
		return apperrors.Precondition("built-in templates cannot be deleted")
	}
	w := s.pool.Writer()
	if _, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM templates WHERE id = ?`), id); err != nil {
		return err
	}
	s.publish(ctx, events.TemplateDeleted, map[string]interface{}{"templateId": id})
	return nil
}

// GetTemplate returns one template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*v1.Template, error) {
	r := s.pool.Reader()
	row := r.QueryRowContext(ctx, r.Rebind(`SELECT id, name, role, content, built_in, created_at, updated_at FROM templates WHERE id = ?`), id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("template", id)
	}
	return t, err
}

// ListTemplates returns all templates, optionally filtered by role.
func (s *Store) ListTemplates(ctx context.Context, role string) ([]*v1.Template, error) {
	r := s.pool.Reader()
	query := `SELECT id, name, role, content, built_in, created_at, updated_at FROM templates`
	args := []interface{}{}
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := r.QueryContext(ctx, r.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*v1.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func scanTemplate(row rowScanner) (*v1.Template, error) {
	t := &v1.Template{}
	var builtIn int
	if err := row.Scan(&t.ID, &t.Name, &t.Role, &t.Content, &builtIn, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.BuiltIn = builtIn != 0
	return t, nil
}

// SaveFavorite inserts or updates a dashboard favourite and fires
// favorite.updated.
func (s *Store) SaveFavorite(ctx context.Context, f *v1.Favorite) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = v1.Now()
	}

	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE favorites SET label = ?, kind = ?, payload = ? WHERE id = ?
	`), f.Label, f.Kind, f.Payload, f.ID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, err = w.ExecContext(ctx, w.Rebind(`
			INSERT INTO favorites (id, label, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)
		`), f.ID, f.Label, f.Kind, f.Payload, f.CreatedAt)
		if err != nil {
			return err
		}
	}
	s.publish(ctx, events.FavoriteUpdated, map[string]interface{}{"favorite": f})
	return nil
}

// DeleteFavorite removes a favourite and fires favorite.deleted.
func (s *Store) DeleteFavorite(ctx context.Context, id string) error {
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM favorites WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("favorite", id)
	}
	s.publish(ctx, events.FavoriteDeleted, map[string]interface{}{"favoriteId": id})
	return nil
}

// ListFavorites returns all favourites in creation order.
func (s *Store) ListFavorites(ctx context.Context) ([]*v1.Favorite, error) {
	r := s.pool.Reader()
	rows, err := r.QueryContext(ctx, `SELECT id, label, kind, payload, created_at FROM favorites ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var favorites []*v1.Favorite
	for rows.Next() {
		f := &v1.Favorite{}
		if err := rows.Scan(&f.ID, &f.Label, &f.Kind, &f.Payload, &f.CreatedAt); err != nil {
			return nil, err
		}
		favorites = append(favorites, f)
	}
	return favorites, rows.Err()
}
