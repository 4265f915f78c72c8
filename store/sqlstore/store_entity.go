package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"stagekit/content"
	core "stagekit/data/db"
	log "stagekit/logging"
	"stagekit/store"
)

func (s *Store) GetEntity(ctx context.Context, ref content.EntityRef) (*content.Entity, error) {
	return s.getEntity(ctx, s.db, ref)
}

func (s *Store) getEntity(ctx context.Context, q core.IQuerier, ref content.EntityRef) (*content.Entity, error) {
	if ref.ID <= 0 {
		return nil, store.NotFound(ref)
	}
	row := s.queryRow(ctx, q, s.sb.Select(entityColumns...).From(tableEntities).
		Where(sq.Eq{"id": ref.ID, "type": ref.Type}))

	var (
		e                  content.Entity
		status             string
		dateNS, modifiedNS int64
		menuOrder          int64
	)
	err := row.Scan(&e.Ref.ID, &e.Ref.Type, &e.Author, &dateNS, &e.Title, &e.Content, &e.Excerpt, &status,
		&e.Name, &e.Parent, &menuOrder, &e.CommentStatus, &e.PingStatus, &e.Password, &modifiedNS, &e.ModifiedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(ref)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get entity %s: %w", ref, err)
	}
	e.Status = content.Status(status)
	e.MenuOrder = int(menuOrder)
	e.Date = fromNanos(dateNS)
	e.Modified = fromNanos(modifiedNS)
	return &e, nil
}

func (s *Store) UpsertEntity(ctx context.Context, ref content.EntityRef, fields content.Fields) (content.EntityRef, error) {
	if ref.Type == "" {
		return content.EntityRef{}, store.ErrInvalidRef
	}

	var out content.EntityRef
	err := core.WithTx(ctx, s.db, func(tx core.IQuerier) error {
		modified, err := s.tick(ctx, tx)
		if err != nil {
			return err
		}
		actor, _ := store.ActorFrom(ctx)

		if ref.ID > 0 {
			current, err := s.getEntity(ctx, tx, ref)
			if err != nil {
				return err
			}
			updated := current.Apply(fields)
			err = s.exec(ctx, tx, s.sb.Update(tableEntities).
				SetMap(entityRow(updated, modified, actor)).
				Where(sq.Eq{"id": ref.ID, "type": ref.Type}))
			if err != nil {
				return fmt.Errorf("sqlstore: update entity %s: %w", ref, err)
			}
			out = ref
			return nil
		}

		created := (&content.Entity{Ref: content.Ref(ref.Type, 0), Status: content.StatusDraft}).Apply(fields)
		row := entityRow(created, modified, actor)
		row["type"] = ref.Type
		var id int64
		err = s.queryRow(ctx, tx, s.sb.Insert(tableEntities).SetMap(row).Suffix("RETURNING id")).Scan(&id)
		if err != nil {
			return fmt.Errorf("sqlstore: insert entity: %w", err)
		}
		out = content.Ref(ref.Type, id)
		return nil
	})
	if err != nil {
		return content.EntityRef{}, err
	}
	s.logger.Debug(ctx, "entity saved", log.String("ref", out.String()))
	return out, nil
}

func entityRow(e *content.Entity, modified, actor int64) map[string]any {
	row := map[string]any{
		"author":         e.Author,
		"date_ns":        toNanos(e.Date),
		"title":          e.Title,
		"content":        e.Content,
		"excerpt":        e.Excerpt,
		"status":         string(e.Status),
		"name":           e.Name,
		"parent":         e.Parent,
		"menu_order":     e.MenuOrder,
		"comment_status": e.CommentStatus,
		"ping_status":    e.PingStatus,
		"password":       e.Password,
		"modified_ns":    modified,
	}
	if actor != 0 {
		row["modified_by"] = actor
	}
	return row
}

func (s *Store) TrashEntity(ctx context.Context, ref content.EntityRef) (bool, error) {
	if err := s.SetEntityStatus(ctx, ref, content.StatusTrash); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) SetEntityStatus(ctx context.Context, ref content.EntityRef, status content.Status) error {
	return core.WithTx(ctx, s.db, func(tx core.IQuerier) error {
		if _, err := s.getEntity(ctx, tx, ref); err != nil {
			return err
		}
		modified, err := s.tick(ctx, tx)
		if err != nil {
			return err
		}
		update := s.sb.Update(tableEntities).
			Set("status", string(status)).
			Set("modified_ns", modified).
			Where(sq.Eq{"id": ref.ID, "type": ref.Type})
		if actor, ok := store.ActorFrom(ctx); ok {
			update = update.Set("modified_by", actor)
		}
		if err := s.exec(ctx, tx, update); err != nil {
			return fmt.Errorf("sqlstore: set status %s: %w", ref, err)
		}
		return nil
	})
}

func (s *Store) ListByStatus(ctx context.Context, status content.Status) ([]content.EntityRef, error) {
	rows, err := s.query(ctx, s.db, s.sb.Select("type", "id").From(tableEntities).
		Where(sq.Eq{"status": string(status)}).OrderBy("type", "id"))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list by status: %w", err)
	}
	defer rows.Close()

	var refs []content.EntityRef
	for rows.Next() {
		var ref content.EntityRef
		if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
